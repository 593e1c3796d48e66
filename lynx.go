package romlib

const (
	// Lynx is the platform identifier of the Atari Lynx
	Lynx = "Lynx"
	// Atari7800 is the platform identifier of the Atari 7800
	Atari7800 = "7800"

	lynxHeaderSize      = 64
	atari7800HeaderSize = 128
)

// See the following for reference:
//
// * https://atarigamer.com/lynx/lnx2lyx
// * http://7800.8bitdev.org/index.php/A78_Header_Specification

var (
	lynxHeader      = magicHeader([]byte{'L', 'Y', 'N', 'X'}, 0, lynxHeaderSize)
	atari7800Header = magicHeader([]byte("ATARI7800"), 1, atari7800HeaderSize)
)
