package submission

import (
	"reflect"
	"testing"
)

func TestFilterVideos(t *testing.T) {
	got := FilterVideos([]string{"abc", "aaaaaaaaaaa", "dQw4w9WgXcQ"})
	want := []string{"aaaaaaaaaaa", "dQw4w9WgXcQ"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("FilterVideos = %v, want %v", got, want)
	}
}

func TestFilterChannels(t *testing.T) {
	valid := "UC" + "abcdefghijklmnopqrstuv" // 22 chars after UC
	got := FilterChannels([]string{"not-a-channel", valid})
	if len(got) != 1 || got[0] != valid {
		t.Errorf("FilterChannels = %v, want [%s]", got, valid)
	}
}

func TestSubmit_DedupOnSecondCall(t *testing.T) {
	staged := map[string]bool{}
	insert := func(ids []string) ([]string, error) {
		var inserted []string
		for _, id := range ids {
			if staged[id] {
				continue
			}
			staged[id] = true
			inserted = append(inserted, id)
		}
		return inserted, nil
	}

	ids := []string{"aaaaaaaaaaa"}
	first, err := Submit(ids, FilterVideos, insert)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(first) != 1 {
		t.Errorf("first call: inserted = %v, want 1 id", first)
	}

	second, err := Submit(ids, FilterVideos, insert)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(second) != 0 {
		t.Errorf("second call: inserted = %v, want []", second)
	}
}

func TestSubmit_EmptyAfterFilter(t *testing.T) {
	called := false
	insert := func(ids []string) ([]string, error) {
		called = true
		return nil, nil
	}
	inserted, err := Submit([]string{"abc"}, FilterVideos, insert)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(inserted) != 0 {
		t.Errorf("inserted = %v, want []", inserted)
	}
	if called {
		t.Error("insert should not be called when nothing survives filtering")
	}
}
