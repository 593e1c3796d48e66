package romlib

const (
	// NES is the platform identifier of the Nintendo Entertainment System
	NES = "NES"
	// FDS is the platform identifier of the Famicom Disk System
	FDS = "FDS"

	nesHeaderSize = 16
	fdsHeaderSize = 16
)

// See the following for reference:
//
// * https://wiki.nesdev.com/w/index.php/INES
// * https://wiki.nesdev.com/w/index.php/NES_2.0
// * https://wiki.nesdev.com/w/index.php/FDS_file_format

var (
	nesHeader = magicHeader([]byte{'N', 'E', 'S', 0x1a}, 0, nesHeaderSize)
	fdsHeader = magicHeader([]byte{'F', 'D', 'S', 0x1a}, 0, fdsHeaderSize)
)
