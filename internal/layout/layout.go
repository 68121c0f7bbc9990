// Package layout encodes the on-disk collaborator files described in
// spec.md §6: the manager's ".iodtab" (data-server list) and ".capfsdir"
// sentinel, and the data server's ".capfsiod" sentinel. The original source
// (lib/iodtab.h) stores the server list as a flat newline-separated text
// file; we keep that shape (read back by the manager's Iodinfo) but store
// the sentinel as a small JSON record with a creation time and version
// (original_source uses a fixed magic string), readable with ReadSentinel.
package layout

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// IodtabName is the manager-root file listing data servers, one per line.
const IodtabName = ".iodtab"

// CapfsdirName is the manager-root sentinel marking a managed metadata root.
const CapfsdirName = ".capfsdir"

// CapfsiodName is the data-server-root sentinel marking a managed data root
// (spec.md §4.A, A3).
const CapfsiodName = ".capfsiod"

// Sentinel is the structured payload stored in .capfsdir / .capfsiod.
type Sentinel struct {
	Version   int       `json:"version"`
	CreatedAt time.Time `json:"created_at"`
}

const sentinelVersion = 1

// WriteSentinel creates name under dir with a fresh Sentinel record. It
// fails if the sentinel already exists, to avoid clobbering another
// process's initialization timestamp.
func WriteSentinel(dir, name string) error {
	s := Sentinel{Version: sentinelVersion, CreatedAt: time.Now()}
	data, err := json.Marshal(s)
	if err != nil {
		return errors.Wrap(err, "layout: marshal sentinel")
	}
	path := filepath.Join(dir, name)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return errors.Wrapf(err, "layout: create sentinel %s", path)
	}
	defer f.Close()
	_, err = f.Write(data)
	return err
}

// ReadSentinel reads and parses the sentinel file under dir, returning
// os.ErrNotExist if the directory is not a managed root.
func ReadSentinel(dir, name string) (Sentinel, error) {
	path := filepath.Join(dir, name)
	data, err := os.ReadFile(path)
	if err != nil {
		return Sentinel{}, err
	}
	var s Sentinel
	if err := json.Unmarshal(data, &s); err != nil {
		// Older/foreign sentinel content: treat as present but unversioned
		// rather than fail managed-root detection outright.
		return Sentinel{Version: 0}, nil
	}
	return s, nil
}

// HasSentinel reports whether dir is a managed root (spec.md A3: directories
// without the sentinel are skipped by REMOVEALL, never emptied).
func HasSentinel(dir, name string) bool {
	_, err := os.Stat(filepath.Join(dir, name))
	return err == nil
}

// WriteIodtab writes the manager's list of data-server addresses, one per
// line, matching the original source's lib/iodtab.h flat-file format.
func WriteIodtab(managerRoot string, servers []string) error {
	path := filepath.Join(managerRoot, IodtabName)
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "layout: create %s", path)
	}
	defer f.Close()
	w := bufio.NewWriter(f)
	for _, s := range servers {
		if _, err := w.WriteString(s + "\n"); err != nil {
			return err
		}
	}
	return w.Flush()
}

// ReadIodtab parses the manager's data-server list.
func ReadIodtab(managerRoot string) ([]string, error) {
	path := filepath.Join(managerRoot, IodtabName)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "layout: read %s", path)
	}
	var out []string
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			out = append(out, line)
		}
	}
	return out, nil
}
