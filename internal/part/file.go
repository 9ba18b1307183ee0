package part

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	semver "github.com/Masterminds/semver/v3"
)

// supportedFormats is the range of config format versions this build
// understands. A config with no format line is treated as 1.0.0.
const supportedFormats = ">= 1.0.0, < 2.0.0"

// Config describes a file-backed partition. The on-disk form is the
// original two-line text file: the first line names the file that
// simulates the drive, the second line holds the partition size in
// clusters. An optional third line "format = <semver>" pins the config
// format version.
type Config struct {
	BackingFile string
	Clusters    ClusterNo
	Format      *semver.Version
}

// ParseConfig reads a partition config from path.
func ParseConfig(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open partition config: %w", err)
	}
	defer f.Close()

	var lines []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		lines = append(lines, line)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read partition config: %w", err)
	}
	if len(lines) < 2 {
		return nil, fmt.Errorf("partition config %s: need backing file and cluster count", path)
	}

	clusters, err := strconv.ParseUint(lines[1], 10, 32)
	if err != nil || clusters == 0 {
		return nil, fmt.Errorf("partition config %s: bad cluster count %q", path, lines[1])
	}

	cfg := &Config{BackingFile: lines[0], Clusters: ClusterNo(clusters)}

	version := "1.0.0"
	if len(lines) > 2 {
		v := lines[2]
		if i := strings.Index(v, "="); i >= 0 {
			key := strings.TrimSpace(v[:i])
			if key != "format" {
				return nil, fmt.Errorf("partition config %s: unknown key %q", path, key)
			}
			v = strings.TrimSpace(v[i+1:])
		}
		version = v
	}
	cfg.Format, err = semver.NewVersion(version)
	if err != nil {
		return nil, fmt.Errorf("partition config %s: bad format version %q: %w", path, version, err)
	}
	constraint, err := semver.NewConstraint(supportedFormats)
	if err != nil {
		return nil, err
	}
	if !constraint.Check(cfg.Format) {
		return nil, fmt.Errorf("partition config %s: format %s outside supported range %s",
			path, cfg.Format, supportedFormats)
	}
	return cfg, nil
}

// File is a partition backed by a regular file. The file is extended
// to the configured size if it is smaller, and held under an advisory
// lock for the lifetime of the partition where the platform supports
// one.
type File struct {
	f        *os.File
	clusters ClusterNo
}

// Open opens the file-backed partition described by the config file at
// path.
func Open(path string) (*File, error) {
	cfg, err := ParseConfig(path)
	if err != nil {
		return nil, err
	}
	return OpenConfig(cfg)
}

// OpenConfig opens a file-backed partition from an already-parsed
// config.
func OpenConfig(cfg *Config) (*File, error) {
	f, err := os.OpenFile(cfg.BackingFile, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open backing file: %w", err)
	}
	if err := lockFile(f); err != nil {
		f.Close()
		return nil, fmt.Errorf("lock backing file %s: %w", cfg.BackingFile, err)
	}

	want := int64(cfg.Clusters) * ClusterSize
	info, err := f.Stat()
	if err != nil {
		unlockFile(f)
		f.Close()
		return nil, fmt.Errorf("stat backing file: %w", err)
	}
	if info.Size() < want {
		if err := f.Truncate(want); err != nil {
			unlockFile(f)
			f.Close()
			return nil, fmt.Errorf("extend backing file to %d bytes: %w", want, err)
		}
	}
	return &File{f: f, clusters: cfg.Clusters}, nil
}

// NumClusters returns the partition size in clusters.
func (p *File) NumClusters() ClusterNo { return p.clusters }

// ReadCluster reads cluster n into buf.
func (p *File) ReadCluster(n ClusterNo, buf []byte) int {
	if n >= p.clusters || len(buf) < ClusterSize {
		return 0
	}
	if _, err := p.f.ReadAt(buf[:ClusterSize], int64(n)*ClusterSize); err != nil {
		return 0
	}
	return 1
}

// WriteCluster writes buf to cluster n.
func (p *File) WriteCluster(n ClusterNo, buf []byte) int {
	if n >= p.clusters || len(buf) < ClusterSize {
		return 0
	}
	if _, err := p.f.WriteAt(buf[:ClusterSize], int64(n)*ClusterSize); err != nil {
		return 0
	}
	return 1
}

// Path returns the backing file path.
func (p *File) Path() string { return p.f.Name() }

// Close releases the lock and closes the backing file.
func (p *File) Close() error {
	unlockFile(p.f)
	return p.f.Close()
}
