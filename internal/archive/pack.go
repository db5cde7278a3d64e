package archive

import (
	"archive/tar"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zip"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Pack writes the files under dir to w in the given format. It returns the
// number of files written.
func Pack(ctx context.Context, dir string, format Format, w io.Writer) (int, error) {
	switch format {
	case FormatZip:
		zw := zip.NewWriter(w)
		n, err := walkFiles(ctx, dir, func(rel string, info fs.FileInfo, f io.Reader) error {
			hdr, err := zip.FileInfoHeader(info)
			if err != nil {
				return err
			}
			hdr.Name = rel
			hdr.Method = zip.Deflate
			fw, err := zw.CreateHeader(hdr)
			if err != nil {
				return err
			}
			_, err = io.Copy(fw, f)
			return err
		})
		if err != nil {
			return n, err
		}
		return n, zw.Close()

	case FormatTar:
		return packTar(ctx, dir, w)

	case FormatTarZst:
		enc, err := zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.SpeedDefault))
		if err != nil {
			return 0, fmt.Errorf("creating zstd writer: %w", err)
		}
		n, err := packTar(ctx, dir, enc)
		if err != nil {
			enc.Close()
			return n, err
		}
		return n, enc.Close()

	case FormatTarLZ4:
		lw := lz4.NewWriter(w)
		n, err := packTar(ctx, dir, lw)
		if err != nil {
			lw.Close()
			return n, err
		}
		return n, lw.Close()

	default:
		return 0, fmt.Errorf("unsupported archive format: %q", format)
	}
}

func packTar(ctx context.Context, dir string, w io.Writer) (int, error) {
	tw := tar.NewWriter(w)
	n, err := walkFiles(ctx, dir, func(rel string, info fs.FileInfo, f io.Reader) error {
		hdr, err := tar.FileInfoHeader(info, "")
		if err != nil {
			return err
		}
		hdr.Name = rel
		if err := tw.WriteHeader(hdr); err != nil {
			return err
		}
		_, err = io.Copy(tw, f)
		return err
	})
	if err != nil {
		return n, err
	}
	return n, tw.Close()
}

// walkFiles calls fn for every regular file under dir with its slash
// separated relative path.
func walkFiles(ctx context.Context, dir string, fn func(rel string, info fs.FileInfo, f io.Reader) error) (int, error) {
	n := 0
	err := filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(dir, p)
		if err != nil {
			return err
		}
		f, err := os.Open(p)
		if err != nil {
			return err
		}
		defer f.Close()
		if err := fn(filepath.ToSlash(rel), info, f); err != nil {
			return fmt.Errorf("packing %s: %w", rel, err)
		}
		n++
		return nil
	})
	return n, err
}

// unpack extracts f into dest and returns the number of files written.
func unpack(ctx context.Context, format Format, f *os.File, dest string) (int, error) {
	switch format {
	case FormatZip:
		info, err := f.Stat()
		if err != nil {
			return 0, err
		}
		zr, err := zip.NewReader(f, info.Size())
		if err != nil {
			return 0, fmt.Errorf("opening zip: %w", err)
		}
		return extractZip(ctx, zr, dest)

	case FormatTar:
		return extractTar(ctx, f, dest)

	case FormatTarZst:
		dec, err := zstd.NewReader(f)
		if err != nil {
			return 0, fmt.Errorf("creating zstd reader: %w", err)
		}
		defer dec.Close()
		return extractTar(ctx, dec, dest)

	case FormatTarLZ4:
		return extractTar(ctx, lz4.NewReader(f), dest)

	default:
		return 0, fmt.Errorf("unsupported archive format: %q", format)
	}
}

func extractTar(ctx context.Context, r io.Reader, dest string) (int, error) {
	tr := tar.NewReader(r)
	n := 0
	for {
		if err := ctx.Err(); err != nil {
			return n, err
		}
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return n, nil
		}
		if err != nil {
			return n, fmt.Errorf("reading tar entry: %w", err)
		}
		target, err := safeJoin(dest, hdr.Name)
		if err != nil {
			return n, err
		}
		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0755); err != nil {
				return n, fmt.Errorf("creating %s: %w", target, err)
			}
		case tar.TypeReg:
			if err := writeFile(target, tr, hdr.FileInfo().Mode().Perm()); err != nil {
				return n, err
			}
			n++
		}
	}
}

func extractZip(ctx context.Context, zr *zip.Reader, dest string) (int, error) {
	n := 0
	for _, zf := range zr.File {
		if err := ctx.Err(); err != nil {
			return n, err
		}
		target, err := safeJoin(dest, zf.Name)
		if err != nil {
			return n, err
		}
		if zf.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0755); err != nil {
				return n, fmt.Errorf("creating %s: %w", target, err)
			}
			continue
		}
		rc, err := zf.Open()
		if err != nil {
			return n, fmt.Errorf("opening %s: %w", zf.Name, err)
		}
		err = writeFile(target, rc, zf.Mode().Perm())
		rc.Close()
		if err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

// writeFile replaces target. Files synced from version control are usually
// read-only, so the old file is removed rather than truncated.
func writeFile(target string, r io.Reader, perm fs.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return fmt.Errorf("creating %s: %w", filepath.Dir(target), err)
	}
	if err := os.Remove(target); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("replacing %s: %w", target, err)
	}
	if perm == 0 {
		perm = 0644
	}
	f, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_EXCL, perm)
	if err != nil {
		return fmt.Errorf("creating %s: %w", target, err)
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		return fmt.Errorf("writing %s: %w", target, err)
	}
	return f.Close()
}

// safeJoin resolves an archive entry name under dest, rejecting entries
// that would land outside it.
func safeJoin(dest, name string) (string, error) {
	name = filepath.FromSlash(strings.ReplaceAll(name, "\\", "/"))
	if filepath.IsAbs(name) || filepath.VolumeName(name) != "" {
		return "", fmt.Errorf("archive entry %q has an absolute path", name)
	}
	target := filepath.Join(dest, name)
	rel, err := filepath.Rel(dest, target)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("archive entry %q escapes the install directory", name)
	}
	return target, nil
}
