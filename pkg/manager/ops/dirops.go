package ops

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pkg/errors"
	"github.com/shirou/gopsutil/v3/disk"

	"github.com/mnv104/capfs-sub000/internal/capfserr"
	"github.com/mnv104/capfs-sub000/internal/layout"
)

// reservedNames are never surfaced to a client directory listing (spec.md
// §4.F getdents: "filters reserved names").
var reservedNames = map[string]bool{
	layout.IodtabName:   true,
	layout.CapfsdirName: true,
}

func (e *Engine) fullPath(relPath string) string {
	return filepath.Join(e.recipes.Root(), relPath)
}

// Mkdir implements spec.md §6 mkdir. Directories are plain directories on
// the manager's local filesystem; only regular files carry a recipe pair.
func (e *Engine) Mkdir(ctx context.Context, relPath string, mode uint32) error {
	if err := os.Mkdir(e.fullPath(relPath), os.FileMode(mode&0o777)); err != nil {
		if os.IsExist(err) {
			return capfserr.ErrExist
		}
		if os.IsNotExist(err) {
			return capfserr.ErrNotExist
		}
		return errors.Wrapf(err, "ops: mkdir %s", relPath)
	}
	return nil
}

// Rmdir implements spec.md §6 rmdir: refuses a directory that still
// contains entries other than the reserved sentinel files.
func (e *Engine) Rmdir(ctx context.Context, relPath string) error {
	full := e.fullPath(relPath)
	entries, err := os.ReadDir(full)
	if err != nil {
		if os.IsNotExist(err) {
			return capfserr.ErrNotExist
		}
		return errors.Wrapf(err, "ops: readdir %s", relPath)
	}
	for _, ent := range entries {
		if reservedNames[ent.Name()] {
			continue
		}
		return capfserr.ErrNotEmpty
	}
	if err := os.Remove(full); err != nil {
		return errors.Wrapf(err, "ops: rmdir %s", relPath)
	}
	return nil
}

// DirEntry is one entry of a getdents listing.
type DirEntry struct {
	Name  string
	IsDir bool
}

// GetDents implements spec.md §4.F getdents: a portable (handle, offset,
// name) cursor where offset is opaque to the client. The handle here is the
// directory's relPath; offset indexes into the filtered, sorted listing.
func (e *Engine) GetDents(ctx context.Context, relPath string, offset int, limit int) ([]DirEntry, int, error) {
	full := e.fullPath(relPath)
	raw, err := os.ReadDir(full)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, 0, capfserr.ErrNotExist
		}
		return nil, 0, errors.Wrapf(err, "ops: readdir %s", relPath)
	}

	var names []DirEntry
	seen := make(map[string]bool)
	for _, ent := range raw {
		name := ent.Name()
		if reservedNames[name] {
			continue
		}
		if !ent.IsDir() && strings.HasSuffix(name, ".hashes") {
			// the sibling hashes file of a regular CAPFS file; not a
			// directory entry in its own right (spec.md §4.D layout).
			continue
		}
		if seen[name] {
			continue
		}
		seen[name] = true
		names = append(names, DirEntry{Name: name, IsDir: ent.IsDir()})
	}
	sort.Slice(names, func(i, j int) bool { return names[i].Name < names[j].Name })

	if offset > len(names) {
		offset = len(names)
	}
	end := offset + limit
	if limit <= 0 || end > len(names) {
		end = len(names)
	}
	return names[offset:end], end, nil
}

// Link implements spec.md §6 link. Hardlinks are compiled out of the
// original source and the spec follows suit (§9 open question 2); the core
// does not support them.
func (e *Engine) Link(ctx context.Context, oldPath, newPath string) error {
	return errors.New("ops: hardlinks are not supported")
}

// Symlink creates a symbolic link on the manager's local filesystem.
func (e *Engine) Symlink(ctx context.Context, target, linkPath string) error {
	if err := os.Symlink(target, e.fullPath(linkPath)); err != nil {
		if os.IsExist(err) {
			return capfserr.ErrExist
		}
		return errors.Wrapf(err, "ops: symlink %s", linkPath)
	}
	return nil
}

// Readlink implements spec.md §6 readlink.
func (e *Engine) Readlink(ctx context.Context, relPath string) (string, error) {
	target, err := os.Readlink(e.fullPath(relPath))
	if err != nil {
		if os.IsNotExist(err) {
			return "", capfserr.ErrNotExist
		}
		return "", errors.Wrapf(err, "ops: readlink %s", relPath)
	}
	return target, nil
}

// Statfs implements spec.md §6 statfs for the manager's own metadata
// filesystem (distinct from a data server's STATFS in component A).
func (e *Engine) Statfs(ctx context.Context) (disk.UsageStat, error) {
	u, err := disk.UsageWithContext(ctx, e.recipes.Root())
	if err != nil {
		return disk.UsageStat{}, errors.Wrap(err, "ops: statfs")
	}
	return *u, nil
}

// IodInfo implements spec.md §6 iodinfo: the manager's data-server list, as
// recorded in .iodtab (spec.md §6 on-disk layout).
func (e *Engine) IodInfo(ctx context.Context) ([]string, error) {
	return layout.ReadIodtab(e.recipes.Root())
}
