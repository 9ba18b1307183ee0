package part

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestMemoryPartition(t *testing.T) {
	p := NewMemory(4)
	if p.NumClusters() != 4 {
		t.Fatalf("got %d clusters, want 4", p.NumClusters())
	}

	buf := make([]byte, ClusterSize)
	for i := range buf {
		buf[i] = byte(i)
	}
	if p.WriteCluster(2, buf) == 0 {
		t.Fatal("write failed")
	}
	got := make([]byte, ClusterSize)
	if p.ReadCluster(2, got) == 0 {
		t.Fatal("read failed")
	}
	if !bytes.Equal(buf, got) {
		t.Fatal("cluster contents differ after round trip")
	}

	if p.ReadCluster(4, got) != 0 || p.WriteCluster(4, buf) != 0 {
		t.Fatal("out-of-range cluster access succeeded")
	}
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "partition.ini")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestParseConfig(t *testing.T) {
	t.Run("TwoLines", func(t *testing.T) {
		cfg, err := ParseConfig(writeConfig(t, "swap.bin\n100\n"))
		if err != nil {
			t.Fatal(err)
		}
		if cfg.BackingFile != "swap.bin" || cfg.Clusters != 100 {
			t.Fatalf("got %+v", cfg)
		}
		if cfg.Format.String() != "1.0.0" {
			t.Fatalf("default format %s, want 1.0.0", cfg.Format)
		}
	})

	t.Run("CommentsAndFormat", func(t *testing.T) {
		cfg, err := ParseConfig(writeConfig(t, "# swap partition\nswap.bin\n64\nformat = 1.2.0\n"))
		if err != nil {
			t.Fatal(err)
		}
		if cfg.Format.String() != "1.2.0" {
			t.Fatalf("format %s, want 1.2.0", cfg.Format)
		}
	})

	t.Run("UnsupportedFormat", func(t *testing.T) {
		if _, err := ParseConfig(writeConfig(t, "swap.bin\n64\nformat = 2.0.0\n")); err == nil {
			t.Fatal("format 2.0.0 accepted")
		}
	})

	t.Run("BadClusterCount", func(t *testing.T) {
		if _, err := ParseConfig(writeConfig(t, "swap.bin\nmany\n")); err == nil {
			t.Fatal("bad cluster count accepted")
		}
		if _, err := ParseConfig(writeConfig(t, "swap.bin\n0\n")); err == nil {
			t.Fatal("zero cluster count accepted")
		}
	})

	t.Run("Truncated", func(t *testing.T) {
		if _, err := ParseConfig(writeConfig(t, "swap.bin\n")); err == nil {
			t.Fatal("one-line config accepted")
		}
	})
}

func TestFilePartition(t *testing.T) {
	dir := t.TempDir()
	backing := filepath.Join(dir, "swap.bin")
	cfgPath := writeConfig(t, backing+"\n8\n")

	p, err := Open(cfgPath)
	if err != nil {
		t.Fatal(err)
	}
	defer p.Close()

	info, err := os.Stat(backing)
	if err != nil {
		t.Fatal(err)
	}
	if info.Size() != 8*ClusterSize {
		t.Fatalf("backing file is %d bytes, want %d", info.Size(), 8*ClusterSize)
	}

	buf := bytes.Repeat([]byte{0xAB}, ClusterSize)
	if p.WriteCluster(7, buf) == 0 {
		t.Fatal("write failed")
	}
	got := make([]byte, ClusterSize)
	if p.ReadCluster(7, got) == 0 {
		t.Fatal("read failed")
	}
	if !bytes.Equal(buf, got) {
		t.Fatal("cluster contents differ after round trip")
	}
	if p.WriteCluster(8, buf) != 0 {
		t.Fatal("out-of-range write succeeded")
	}
}

func TestWatcher(t *testing.T) {
	dir := t.TempDir()
	backing := filepath.Join(dir, "swap.bin")
	cfgPath := writeConfig(t, backing+"\n4\n")

	p, err := Open(cfgPath)
	if err != nil {
		t.Fatal(err)
	}
	defer p.Close()

	w, err := p.Watch()
	if err != nil {
		t.Fatal(err)
	}
	defer w.Close()

	waitEvent := func(want IntegrityKind) IntegrityEvent {
		t.Helper()
		deadline := time.After(5 * time.Second)
		for {
			select {
			case ev := <-w.Events():
				if ev.Kind == want {
					return ev
				}
			case err := <-w.Errors():
				t.Fatal(err)
			case <-deadline:
				t.Fatalf("no %v event", want)
			}
		}
	}

	t.Run("TruncationBelowClusterCount", func(t *testing.T) {
		if err := os.Truncate(backing, 2*ClusterSize); err != nil {
			t.Fatal(err)
		}
		ev := waitEvent(Truncated)
		if ev.Size != 2*ClusterSize {
			t.Fatalf("reported size %d, want %d", ev.Size, 2*ClusterSize)
		}
	})

	t.Run("Removal", func(t *testing.T) {
		if err := os.Remove(backing); err != nil {
			t.Fatal(err)
		}
		ev := waitEvent(Removed)
		if ev.Size != -1 {
			t.Fatalf("reported size %d for a removed file, want -1", ev.Size)
		}
	})
}
