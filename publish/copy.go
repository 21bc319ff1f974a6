package publish

import (
	"io"
	"os"

	"github.com/richinsley/comfy2ayon/errdefs"
)

// CopyFile copies src to dst, keeping the permission bits and modification time.
// dst is overwritten when it exists.
func CopyFile(src, dst string) error {
	const op = "CopyFile"
	in, err := os.Open(src)
	if err != nil {
		return errdefs.IO(op, err, "opening %s", src)
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return errdefs.IO(op, err, "stat %s", src)
	}
	if info.IsDir() {
		return errdefs.Invalid(op, "%s is a directory", src)
	}

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return errdefs.IO(op, err, "creating %s", dst)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return errdefs.IO(op, err, "copying %s to %s", src, dst)
	}
	if err := out.Close(); err != nil {
		return errdefs.IO(op, err, "closing %s", dst)
	}
	if err := os.Chmod(dst, info.Mode().Perm()); err != nil {
		return errdefs.IO(op, err, "chmod %s", dst)
	}
	if err := os.Chtimes(dst, info.ModTime(), info.ModTime()); err != nil {
		return errdefs.IO(op, err, "chtimes %s", dst)
	}
	return nil
}
