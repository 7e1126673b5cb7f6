package opt

import (
	"testing"
)

func TestCacheLineSize(t *testing.T) {
	if CacheLineSize_ == 0 || CacheLineSize_&(CacheLineSize_-1) != 0 {
		t.Fatalf("CacheLineSize_ must be a power of two, got %d", CacheLineSize_)
	}
}

func TestBuildFlags(t *testing.T) {
	t.Logf("Race_=%v Debug_=%v PaddingMult_=%d", Race_, Debug_, PaddingMult_)
	if PaddingMult_ != 0 && PaddingMult_ != 1 {
		t.Fatalf("PaddingMult_ must be 0 or 1, got %d", PaddingMult_)
	}
}
