package storage

import (
	"bytes"
	"fmt"
	"testing"
)

// testDB runs the shared test suite against a DB implementation.
func testDB(t *testing.T, db DB) {
	t.Helper()

	t.Run("PutAndGet", func(t *testing.T) {
		err := db.Put([]byte("key1"), []byte("value1"))
		if err != nil {
			t.Fatalf("Put() error: %v", err)
		}

		val, err := db.Get([]byte("key1"))
		if err != nil {
			t.Fatalf("Get() error: %v", err)
		}
		if !bytes.Equal(val, []byte("value1")) {
			t.Errorf("Get() = %q, want %q", val, "value1")
		}
	})

	t.Run("GetNonexistent", func(t *testing.T) {
		_, err := db.Get([]byte("nonexistent"))
		if err == nil {
			t.Error("Get() for missing key should return error")
		}
	})

	t.Run("Has", func(t *testing.T) {
		db.Put([]byte("exists"), []byte("yes"))

		ok, err := db.Has([]byte("exists"))
		if err != nil {
			t.Fatalf("Has() error: %v", err)
		}
		if !ok {
			t.Error("Has() = false for existing key")
		}

		ok, err = db.Has([]byte("missing"))
		if err != nil {
			t.Fatalf("Has() error: %v", err)
		}
		if ok {
			t.Error("Has() = true for missing key")
		}
	})

	t.Run("Overwrite", func(t *testing.T) {
		db.Put([]byte("ow"), []byte("first"))
		db.Put([]byte("ow"), []byte("second"))

		val, err := db.Get([]byte("ow"))
		if err != nil {
			t.Fatalf("Get() error: %v", err)
		}
		if !bytes.Equal(val, []byte("second")) {
			t.Errorf("Get() after overwrite = %q, want %q", val, "second")
		}
	})

	t.Run("Delete", func(t *testing.T) {
		db.Put([]byte("del"), []byte("value"))

		err := db.Delete([]byte("del"))
		if err != nil {
			t.Fatalf("Delete() error: %v", err)
		}

		ok, _ := db.Has([]byte("del"))
		if ok {
			t.Error("key still present after Delete()")
		}
	})

	t.Run("ForEachPrefix", func(t *testing.T) {
		for i := 0; i < 3; i++ {
			db.Put([]byte(fmt.Sprintf("p/%d", i)), []byte{byte(i)})
		}
		db.Put([]byte("q/0"), []byte("other"))

		seen := 0
		err := db.ForEach([]byte("p/"), func(key, value []byte) error {
			if !bytes.HasPrefix(key, []byte("p/")) {
				t.Errorf("unexpected key %q for prefix p/", key)
			}
			seen++
			return nil
		})
		if err != nil {
			t.Fatalf("ForEach() error: %v", err)
		}
		if seen != 3 {
			t.Errorf("ForEach() visited %d keys, want 3", seen)
		}
	})

	t.Run("BatchCommit", func(t *testing.T) {
		db.Put([]byte("batch/old"), []byte("stale"))

		batch := db.NewBatch()
		batch.Put([]byte("batch/a"), []byte("1"))
		batch.Put([]byte("batch/b"), []byte("2"))
		batch.Delete([]byte("batch/old"))

		// Nothing visible before Commit.
		if ok, _ := db.Has([]byte("batch/a")); ok {
			t.Error("batch write visible before Commit()")
		}

		if err := batch.Commit(); err != nil {
			t.Fatalf("Commit() error: %v", err)
		}

		for _, k := range []string{"batch/a", "batch/b"} {
			if ok, _ := db.Has([]byte(k)); !ok {
				t.Errorf("key %q missing after Commit()", k)
			}
		}
		if ok, _ := db.Has([]byte("batch/old")); ok {
			t.Error("deleted key still present after Commit()")
		}
	})
}

func TestMemoryDB(t *testing.T) {
	db := NewMemory()
	defer db.Close()
	testDB(t, db)
}

func TestBadgerDB(t *testing.T) {
	db, err := NewBadger(t.TempDir())
	if err != nil {
		t.Fatalf("NewBadger() error: %v", err)
	}
	defer db.Close()
	testDB(t, db)
}

func TestMemoryFailNextCommit(t *testing.T) {
	db := NewMemory()
	db.Put([]byte("k"), []byte("v"))
	db.FailNextCommit()

	batch := db.NewBatch()
	batch.Put([]byte("k2"), []byte("v2"))
	batch.Delete([]byte("k"))
	if err := batch.Commit(); err == nil {
		t.Fatal("Commit() should fail after FailNextCommit()")
	}

	// Nothing from the failed batch applied.
	if ok, _ := db.Has([]byte("k2")); ok {
		t.Error("failed commit applied a write")
	}
	if ok, _ := db.Has([]byte("k")); !ok {
		t.Error("failed commit applied a delete")
	}

	// Next commit succeeds.
	batch = db.NewBatch()
	batch.Put([]byte("k3"), []byte("v3"))
	if err := batch.Commit(); err != nil {
		t.Fatalf("second Commit() error: %v", err)
	}
}

func TestBadgerBatchPersistence(t *testing.T) {
	dir := t.TempDir()
	db, err := NewBadger(dir)
	if err != nil {
		t.Fatalf("NewBadger() error: %v", err)
	}

	batch := db.NewBatch()
	batch.Put([]byte("persist"), []byte("yes"))
	if err := batch.Commit(); err != nil {
		t.Fatalf("Commit() error: %v", err)
	}
	if err := db.Close(); err != nil {
		t.Fatalf("Close() error: %v", err)
	}

	reopened, err := NewBadger(dir)
	if err != nil {
		t.Fatalf("reopen error: %v", err)
	}
	defer reopened.Close()

	val, err := reopened.Get([]byte("persist"))
	if err != nil {
		t.Fatalf("Get() after reopen error: %v", err)
	}
	if !bytes.Equal(val, []byte("yes")) {
		t.Errorf("Get() after reopen = %q, want %q", val, "yes")
	}
}
