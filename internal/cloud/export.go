package cloud

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/banshee-data/laserscan/internal/monitoring"
	"github.com/banshee-data/laserscan/internal/security"
)

// ErrEmptyCloud is returned when exporting a cloud without points.
var ErrEmptyCloud = errors.New("no points to export")

// Format is a point cloud file format.
type Format string

const (
	FormatASC Format = "asc"
	FormatPLY Format = "ply"
	FormatPCD Format = "pcd"
)

// ParseFormat accepts "asc", "ply" and "pcd".
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case FormatASC, FormatPLY, FormatPCD:
		return f, nil
	case "":
		return FormatASC, nil
	}
	return "", fmt.Errorf("unknown point cloud format %q", s)
}

// FormatFromName picks the format from a file extension, defaulting to ASC.
func FormatFromName(name string) Format {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".ply":
		return FormatPLY
	case ".pcd":
		return FormatPCD
	}
	return FormatASC
}

// ContentType returns the MIME type used when serving the format over HTTP.
func (f Format) ContentType() string {
	switch f {
	case FormatPLY:
		return "application/x-ply"
	case FormatPCD:
		return "application/x-pcd"
	}
	return "text/plain; charset=utf-8"
}

// Write encodes c to w in the given format.
func Write(w io.Writer, c Cloud, f Format) error {
	switch f {
	case FormatPLY:
		return WritePLY(w, c)
	case FormatPCD:
		return WritePCD(w, c)
	}
	return WriteASC(w, c)
}

// WriteASC writes one "x y z r g b" line per point, the column layout
// CloudCompare and MeshLab import without configuration.
func WriteASC(w io.Writer, c Cloud) error {
	bw := bufio.NewWriter(w)
	for _, b := range c.Batches {
		for i, p := range b.Points {
			col := b.Colors[i]
			if _, err := fmt.Fprintf(bw, "%.6f %.6f %.6f %d %d %d\n",
				p.X, p.Y, p.Z, col.R, col.G, col.B); err != nil {
				return err
			}
		}
	}
	return bw.Flush()
}

// WritePLY writes an ASCII PLY file with per-vertex colour.
func WritePLY(w io.Writer, c Cloud) error {
	bw := bufio.NewWriter(w)
	fmt.Fprintf(bw, "ply\nformat ascii 1.0\ncomment generated by laserscan\n")
	fmt.Fprintf(bw, "element vertex %d\n", c.Len())
	fmt.Fprintf(bw, "property float x\nproperty float y\nproperty float z\n")
	fmt.Fprintf(bw, "property uchar red\nproperty uchar green\nproperty uchar blue\n")
	fmt.Fprintf(bw, "end_header\n")
	for _, b := range c.Batches {
		for i, p := range b.Points {
			col := b.Colors[i]
			if _, err := fmt.Fprintf(bw, "%.6f %.6f %.6f %d %d %d\n",
				p.X, p.Y, p.Z, col.R, col.G, col.B); err != nil {
				return err
			}
		}
	}
	return bw.Flush()
}

// WritePCD writes an ASCII PCD v0.7 file. PCD consumers expect metres, so
// coordinates are scaled down from millimetres; colour is packed as 0xRRGGBB.
func WritePCD(w io.Writer, c Cloud) error {
	bw := bufio.NewWriter(w)
	fmt.Fprintf(bw, "VERSION .7\n"+
		"FIELDS x y z rgb\n"+
		"SIZE 4 4 4 4\n"+
		"TYPE F F F I\n"+
		"COUNT 1 1 1 1\n")
	fmt.Fprintf(bw, "WIDTH %d\nHEIGHT 1\nVIEWPOINT 0 0 0 1 0 0 0\nPOINTS %d\nDATA ascii\n", c.Len(), c.Len())
	for _, b := range c.Batches {
		for i, p := range b.Points {
			col := b.Colors[i]
			rgb := int(col.R)<<16 | int(col.G)<<8 | int(col.B)
			if _, err := fmt.Fprintf(bw, "%f %f %f %d\n", p.X/1000, p.Y/1000, p.Z/1000, rgb); err != nil {
				return err
			}
		}
	}
	return bw.Flush()
}

// ExportToFile writes c under dir using only the last element of name, so a
// caller cannot direct the export outside dir. The format follows the
// extension of name. It returns the path written.
func ExportToFile(c Cloud, dir, name string) (string, error) {
	if c.Len() == 0 {
		return "", ErrEmptyCloud
	}
	path, err := exportPath(dir, name)
	if err != nil {
		return "", err
	}

	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("create export: %w", err)
	}
	if err := Write(f, c, FormatFromName(path)); err != nil {
		f.Close()
		return "", fmt.Errorf("write export: %w", err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("close export: %w", err)
	}
	monitoring.Logf("Exported %d points to %s", c.Len(), path)
	return path, nil
}

func exportPath(dir, name string) (string, error) {
	if dir == "" {
		return "", fmt.Errorf("export directory not configured")
	}
	base := security.SanitizeFilename(filepath.Base(name))
	if base == "unknown" {
		return "", fmt.Errorf("invalid export filename %q", name)
	}
	if ext := strings.ToLower(filepath.Ext(base)); ext != ".asc" && ext != ".ply" && ext != ".pcd" {
		base += ".asc"
	}

	path := filepath.Join(dir, base)
	if err := security.ValidatePathWithinDirectory(path, dir); err != nil {
		monitoring.Logf("Security: rejected export path %s (from %s): %v", path, name, err)
		return "", fmt.Errorf("invalid export path: %w", err)
	}
	return path, nil
}
