package v7fs

const (
	S_IXOTH = 1 << iota // 00001
	S_IWOTH = 1 << iota // 00002
	S_IROTH = 1 << iota
	S_IXGRP = 1 << iota
	S_IWGRP = 1 << iota // 00010
	S_IRGRP = 1 << iota
	S_IXUSR = 1 << iota
	S_IWUSR = 1 << iota
	S_IRUSR = 1 << iota // 00100
	S_ISVTX = 1 << iota
	S_ISGID = 1 << iota
	S_ISUID = 1 << iota
)

// V7 keeps the file type in the top four bits of the 16-bit mode word.
const S_IFDIR = 0x4000
const S_IFREG = 0x8000
const S_IFMT = 0xf000

const S_IRWXO = S_IXOTH | S_IWOTH | S_IROTH
const S_IRWXG = S_IXGRP | S_IWGRP | S_IRGRP
const S_IRWXU = S_IXUSR | S_IWUSR | S_IRUSR

// Default modes stamped on new inodes. Permission bits are recorded but never
// enforced.
const DefaultFileMode = S_IFREG | S_IRUSR | S_IWUSR | S_IRGRP | S_IROTH
const DefaultDirectoryMode = S_IFDIR | S_IRWXU | S_IRGRP | S_IXGRP | S_IROTH | S_IXOTH

// IsDirectoryMode returns true if `mode` has the directory file type.
func IsDirectoryMode(mode uint16) bool {
	return mode&S_IFMT == S_IFDIR
}

// FormatMode renders `mode` the way `ls -l` does, e.g. "drwxr-xr-x".
func FormatMode(mode uint16) string {
	text := []byte("----------")
	switch mode & S_IFMT {
	case S_IFDIR:
		text[0] = 'd'
	case S_IFREG:
		text[0] = '-'
	default:
		text[0] = '?'
	}

	const letters = "rwxrwxrwx"
	for i := 0; i < 9; i++ {
		if mode&(1<<(8-i)) != 0 {
			text[i+1] = letters[i]
		}
	}

	if mode&S_ISUID != 0 {
		text[3] = setBitLetter(text[3], 's')
	}
	if mode&S_ISGID != 0 {
		text[6] = setBitLetter(text[6], 's')
	}
	if mode&S_ISVTX != 0 {
		text[9] = setBitLetter(text[9], 't')
	}
	return string(text)
}

// setBitLetter gives the letter shown for a set-ID or sticky bit, which is
// uppercase when the execute bit under it is clear.
func setBitLetter(current byte, letter byte) byte {
	if current == 'x' {
		return letter
	}
	return letter - 'a' + 'A'
}
