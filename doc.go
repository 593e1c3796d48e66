/*
Package romlib identifies game ROM and disc images. It provides the checksum
engine used to give every game a stable identity, the rules used to detect
and skip copier headers that some dumping tools prepend to the real data and
readers for the archive and compressed formats ROM collections are commonly
stored in.

The identity of a game is the SHA1 of its content with any header excluded,
so a headered and an unheadered copy of the same game are the same game:

        r, err := romlib.NewReader("Super Mario Bros. (World).nes")
        if err != nil {
                panic(err)
        }
        defer r.Close()

        for _, file := range r.Files() {
                offset := romlib.HeaderSizeReader(romlib.NES, r, file)
                c, err := romlib.ChecksumReader(r, file, offset)
                if err != nil {
                        panic(err)
                }
                fmt.Println(c.String(romlib.Identity))
        }

The scan pipeline that decides which platform a file belongs to lives in the
library package.
*/
package romlib
