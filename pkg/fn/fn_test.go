package fn

import (
	"context"
	"errors"
	"strconv"
	"testing"
	"time"
)

func TestResultBasics(t *testing.T) {
	r := Ok(42)
	if !r.IsOk() {
		t.Error("Ok should be ok")
	}
	v, err := r.Unwrap()
	if v != 42 || err != nil {
		t.Errorf("Unwrap = (%d, %v)", v, err)
	}

	e := Err[int](errors.New("boom"))
	if e.IsOk() {
		t.Error("Err should not be ok")
	}
	if got := e.UnwrapOr(7); got != 7 {
		t.Errorf("UnwrapOr = %d", got)
	}
}

func TestFromPair(t *testing.T) {
	if r := FromPair(1, nil); !r.IsOk() {
		t.Error("FromPair(v, nil) should be ok")
	}
	if r := FromPair(0, errors.New("x")); r.IsOk() {
		t.Error("FromPair(v, err) should be err")
	}
}

func TestCollect_FirstError(t *testing.T) {
	boom := errors.New("boom")
	r := Collect([]Result[int]{Ok(1), Err[int](boom), Ok(3)})
	if _, err := r.Unwrap(); !errors.Is(err, boom) {
		t.Errorf("Collect err = %v", err)
	}

	all, err := Collect([]Result[int]{Ok(1), Ok(2)}).Unwrap()
	if err != nil || len(all) != 2 || all[1] != 2 {
		t.Errorf("Collect ok = (%v, %v)", all, err)
	}
}

func TestRetry_SucceedsAfterFailures(t *testing.T) {
	attempts := 0
	opts := RetryOpts{MaxAttempts: 3, InitialWait: time.Millisecond, MaxWait: 5 * time.Millisecond}
	r := Retry(context.Background(), opts, func(context.Context) Result[string] {
		attempts++
		if attempts < 3 {
			return Err[string](errors.New("transient"))
		}
		return Ok("done")
	})
	if v, _ := r.Unwrap(); v != "done" || attempts != 3 {
		t.Errorf("got %q after %d attempts", v, attempts)
	}
}

func TestRetryIf_StopsOnPermanentError(t *testing.T) {
	permanent := errors.New("permanent")
	attempts := 0
	opts := RetryOpts{MaxAttempts: 5, InitialWait: time.Millisecond, MaxWait: 5 * time.Millisecond}
	r := RetryIf(context.Background(), opts,
		func(err error) bool { return !errors.Is(err, permanent) },
		func(context.Context) Result[int] {
			attempts++
			return Err[int](permanent)
		})
	if _, err := r.Unwrap(); !errors.Is(err, permanent) {
		t.Errorf("err = %v", err)
	}
	if attempts != 1 {
		t.Errorf("attempts = %d, want 1", attempts)
	}
}

func TestRetry_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	opts := RetryOpts{MaxAttempts: 3, InitialWait: time.Hour, MaxWait: time.Hour}
	r := Retry(ctx, opts, func(context.Context) Result[int] {
		return Err[int](errors.New("fail"))
	})
	if _, err := r.Unwrap(); !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}

func TestSliceHelpers(t *testing.T) {
	nums := []int{1, 2, 3, 2, 1}

	strs := Map(nums, strconv.Itoa)
	if len(strs) != 5 || strs[0] != "1" {
		t.Errorf("Map = %v", strs)
	}

	even := Filter(nums, func(n int) bool { return n%2 == 0 })
	if len(even) != 2 {
		t.Errorf("Filter = %v", even)
	}

	doubledOdds := FilterMap(nums, func(n int) (int, bool) { return n * 2, n%2 == 1 })
	if len(doubledOdds) != 3 || doubledOdds[0] != 2 {
		t.Errorf("FilterMap = %v", doubledOdds)
	}

	uniq := UniqueBy(nums, func(n int) int { return n })
	if len(uniq) != 3 {
		t.Errorf("UniqueBy = %v", uniq)
	}

	if got := Truncate(nums, 2); len(got) != 2 {
		t.Errorf("Truncate = %v", got)
	}
	if got := Truncate(nums, 10); len(got) != 5 {
		t.Errorf("Truncate over-length = %v", got)
	}
}

func TestParMapResult_PreservesOrder(t *testing.T) {
	items := []int{5, 4, 3, 2, 1}
	results := ParMapResult(items, 2, func(n int) Result[int] {
		time.Sleep(time.Duration(n) * time.Millisecond)
		return Ok(n * 10)
	})
	vals, err := Collect(results).Unwrap()
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	for i, v := range vals {
		if v != items[i]*10 {
			t.Errorf("vals[%d] = %d", i, v)
		}
	}
}
