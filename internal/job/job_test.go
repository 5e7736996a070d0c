package job

import (
	"context"
	"errors"
	"math/rand"
	"sort"
	"sync/atomic"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/jonboulle/clockwork"
)

func nop(context.Context) error { return nil }

func mustLoc(t *testing.T, name string) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation(name)
	if err != nil {
		t.Fatalf("LoadLocation(%q): %v", name, err)
	}
	return loc
}

func TestOnceDelay(t *testing.T) {
	t.Parallel()
	start := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	clk := clockwork.NewFakeClockAt(start)
	f := NewFactory(WithClock(clk), WithLocation(time.UTC))

	j, err := f.Once("one", 5*time.Second, nop)
	if err != nil {
		t.Fatalf("Once: %v", err)
	}
	if j.IsRepeating() {
		t.Fatal("one-shot job reports repeating")
	}
	if got := j.Delay(); got != 5*time.Second {
		t.Fatalf("Delay = %v, want 5s", got)
	}
	clk.Advance(7 * time.Second)
	if got := j.Delay(); got != -2*time.Second {
		t.Fatalf("Delay after advance = %v, want -2s", got)
	}

	now, err := f.Now("now", nop)
	if err != nil {
		t.Fatalf("Now: %v", err)
	}
	if !now.NextTime().Equal(clk.Now()) {
		t.Fatalf("immediate job due at %v, want %v", now.NextTime(), clk.Now())
	}
}

func TestRepeatingAlignment(t *testing.T) {
	t.Parallel()
	clk := clockwork.NewFakeClockAt(time.Date(2024, 5, 1, 10, 17, 30, 0, time.UTC))
	f := NewFactory(WithClock(clk), WithLocation(time.UTC))

	tests := []struct {
		name     string
		interval Span
		offset   Span
		want     time.Time
	}{
		{name: "quarter hour", interval: Minutes(15), offset: Seconds(0), want: time.Date(2024, 5, 1, 10, 30, 0, 0, time.UTC)},
		{name: "hourly at :05", interval: Hours(1), offset: Minutes(5), want: time.Date(2024, 5, 1, 11, 5, 0, 0, time.UTC)},
		{name: "daily at 02:00", interval: Days(1), offset: Hours(2), want: time.Date(2024, 5, 2, 2, 0, 0, 0, time.UTC)},
		{name: "daily at 12:00 same day", interval: Days(1), offset: Hours(12), want: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)},
	}
	for _, tt := range tests {
		j, err := f.Repeating(tt.name, tt.interval, tt.offset, nop)
		if err != nil {
			t.Fatalf("%s: Repeating: %v", tt.name, err)
		}
		if !j.IsRepeating() {
			t.Fatalf("%s: not repeating", tt.name)
		}
		if got := j.NextTime(); !got.Equal(tt.want) {
			t.Fatalf("%s: NextTime = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestRepeatingValidation(t *testing.T) {
	t.Parallel()
	f := NewFactory(WithClock(clockwork.NewFakeClock()), WithLocation(time.UTC))

	if _, err := f.Repeating("bad", Hours(1), Hours(1), nop); !errors.Is(err, ErrOffsetTooLarge) {
		t.Fatalf("offset == interval: err = %v, want ErrOffsetTooLarge", err)
	}
	if _, err := f.Repeating("bad", Hours(-1), Seconds(0), nop); !errors.Is(err, ErrNegativeAmount) {
		t.Fatalf("negative interval: err = %v, want ErrNegativeAmount", err)
	}
	if _, err := f.Every("bad", Minutes(0), nop); !errors.Is(err, ErrZeroInterval) {
		t.Fatalf("zero interval: err = %v, want ErrZeroInterval", err)
	}
	if _, err := f.Every("bad", Minutes(1), nil); !errors.Is(err, ErrNilFunc) {
		t.Fatalf("nil func: err = %v, want ErrNilFunc", err)
	}
	if _, err := f.Every("bad", Span{Field: Field(42), Amount: 1}, nop); !errors.Is(err, ErrUnknownField) {
		t.Fatalf("unknown field: err = %v, want ErrUnknownField", err)
	}
}

func TestSpanDurationUsesCalendar(t *testing.T) {
	t.Parallel()
	month, err := Months(1).Duration(time.UTC)
	if err != nil {
		t.Fatalf("Duration: %v", err)
	}
	// January 1970.
	if month != 31*24*time.Hour {
		t.Fatalf("1 month = %v, want 744h", month)
	}
	year, err := Years(2).Duration(time.UTC)
	if err != nil {
		t.Fatalf("Duration: %v", err)
	}
	// 1970 and 1971 are not leap years.
	if year != 730*24*time.Hour {
		t.Fatalf("2 years = %v, want 17520h", year)
	}
}

func TestDailyJobKeepsLocalHourAcrossDST(t *testing.T) {
	t.Parallel()
	chicago := mustLoc(t, "America/Chicago")
	santiago := mustLoc(t, "America/Santiago")

	// gap is the local day whose wall hour is skipped; that run lands at
	// gapHour, just after the transition.
	cases := []struct {
		name    string
		loc     *time.Location
		at      int
		start   time.Time
		gap     time.Time
		gapHour int
	}{
		{name: "spring forward", loc: chicago, at: 0, start: time.Date(2021, 3, 11, 12, 0, 0, 0, chicago)},
		{name: "fall back", loc: chicago, at: 0, start: time.Date(2021, 11, 4, 12, 0, 0, 0, chicago)},
		{
			name: "chicago 02:00 gap", loc: chicago, at: 2,
			start: time.Date(2021, 3, 12, 12, 0, 0, 0, chicago),
			gap:   time.Date(2021, 3, 14, 0, 0, 0, 0, chicago), gapHour: 3,
		},
		{
			name: "santiago midnight gap", loc: santiago, at: 0,
			start: time.Date(2024, 9, 5, 12, 0, 0, 0, santiago),
			gap:   time.Date(2024, 9, 8, 12, 0, 0, 0, santiago), gapHour: 1,
		},
	}
	for _, tc := range cases {
		clk := clockwork.NewFakeClockAt(tc.start)
		f := NewFactory(WithClock(clk), WithLocation(tc.loc))
		j, err := f.Repeating("daily", Days(1), Hours(tc.at), nop)
		if err != nil {
			t.Fatalf("%s: Repeating: %v", tc.name, err)
		}

		prev := j.NextTime()
		for i := 0; i < 6; i++ {
			next := j.NextTime()
			local := next.In(tc.loc)
			want := tc.at
			if !tc.gap.IsZero() && local.YearDay() == tc.gap.YearDay() {
				want = tc.gapHour
			}
			if local.Hour() != want || local.Minute() != 0 {
				t.Fatalf("%s: occurrence %d at %v, want %02d:00 local", tc.name, i, local, want)
			}
			if i > 0 && local.YearDay() != prev.In(tc.loc).YearDay()+1 {
				t.Fatalf("%s: occurrence %d on %v, want day after %v", tc.name, i, local, prev.In(tc.loc))
			}
			prev = next
			clk.Advance(j.Delay())
			if err := j.PerformTask(context.Background()); err != nil {
				t.Fatalf("%s: PerformTask: %v", tc.name, err)
			}
		}
	}
}

func TestOrderingIsTotal(t *testing.T) {
	t.Parallel()
	clk := clockwork.NewFakeClockAt(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	f := NewFactory(WithClock(clk), WithLocation(time.UTC))

	var jobs []*Job
	for i := 0; i < 4; i++ {
		j, _ := f.Once("same", time.Hour, nop)
		jobs = append(jobs, j)
	}
	for _, iv := range []Span{Hours(1), Minutes(30), Hours(2)} {
		j, _ := f.Every("rep", iv, nop)
		jobs = append(jobs, j)
	}
	j, _ := f.Repeating("rep-off", Hours(2), Minutes(60), nop)
	jobs = append(jobs, j)
	for i := 0; i < 3; i++ {
		j, _ := f.Once("mixed", time.Duration(i)*30*time.Minute, nop)
		jobs = append(jobs, j)
	}

	// Same due time: ties are broken by id.
	if !Less(jobs[0], jobs[1]) || Less(jobs[1], jobs[0]) {
		t.Fatal("equal due time should order by id")
	}
	// Same due time (01:00): interval 0 sorts before interval 1h.
	if !Less(jobs[3], jobs[4]) {
		t.Fatal("one-shot should sort before repeating job due at the same time")
	}

	for _, a := range jobs {
		if Compare(a, a) != 0 {
			t.Fatalf("Compare(%d, %d) != 0", a.ID(), a.ID())
		}
		for _, b := range jobs {
			if a != b && Compare(a, b) == 0 {
				t.Fatalf("distinct jobs %d and %d compare equal", a.ID(), b.ID())
			}
			if Compare(a, b) != -Compare(b, a) {
				t.Fatalf("Compare not antisymmetric for %d, %d", a.ID(), b.ID())
			}
			for _, c := range jobs {
				if Less(a, b) && Less(b, c) && !Less(a, c) {
					t.Fatalf("transitivity violated for %d < %d < %d", a.ID(), b.ID(), c.ID())
				}
			}
		}
	}

	rng := rand.New(rand.NewSource(7))
	shuffled := append([]*Job(nil), jobs...)
	rng.Shuffle(len(shuffled), func(i, k int) { shuffled[i], shuffled[k] = shuffled[k], shuffled[i] })
	sort.Slice(shuffled, func(i, k int) bool { return Less(shuffled[i], shuffled[k]) })
	for i := 1; i < len(shuffled); i++ {
		if !Less(shuffled[i-1], shuffled[i]) {
			t.Fatalf("sorted order broken at %d", i)
		}
	}
}

func TestFactoriesHaveIndependentIDs(t *testing.T) {
	t.Parallel()
	a := NewFactory(WithClock(clockwork.NewFakeClock()))
	b := NewFactory(WithClock(clockwork.NewFakeClock()))
	ja, _ := a.Now("a", nop)
	jb, _ := b.Now("b", nop)
	ja2, _ := a.Now("a2", nop)
	if ja.ID() != 0 || jb.ID() != 0 || ja2.ID() != 1 {
		t.Fatalf("ids = %d, %d, %d; want 0, 0, 1", ja.ID(), jb.ID(), ja2.ID())
	}
}

func TestPerformTaskCompletesOnError(t *testing.T) {
	t.Parallel()
	f := NewFactory(WithClock(clockwork.NewFakeClock()))
	var hooks atomic.Int32
	boom := errors.New("boom")
	j, _ := f.Now("fails", func(context.Context) error { return boom }, WithOnComplete(func() { hooks.Add(1) }))

	if err := j.PerformTask(context.Background()); !errors.Is(err, boom) {
		t.Fatalf("PerformTask err = %v, want boom", err)
	}
	if j.Completions() != 1 || hooks.Load() != 1 {
		t.Fatalf("completions = %d, hooks = %d; want 1, 1", j.Completions(), hooks.Load())
	}
}

func TestPerformTaskRecoversPanic(t *testing.T) {
	t.Parallel()
	f := NewFactory(WithClock(clockwork.NewFakeClock()))
	j, _ := f.Now("panics", func(context.Context) error { panic("kaboom") })

	err := j.PerformTask(context.Background())
	var pe *PanicError
	if !errors.As(err, &pe) || pe.Value != "kaboom" {
		t.Fatalf("err = %v, want PanicError(kaboom)", err)
	}
	if IsFatal(err) {
		t.Fatal("plain panic must not be fatal")
	}
	if j.Completions() != 1 {
		t.Fatalf("completions = %d, want 1", j.Completions())
	}

	fatal, _ := f.Now("fatal", func(context.Context) error { panic(Fatal(errors.New("oom"))) })
	if err := fatal.PerformTask(context.Background()); !IsFatal(err) {
		t.Fatalf("err = %v, want fatal", err)
	}
}

func TestPerformTaskRecomputesBeforeRunning(t *testing.T) {
	t.Parallel()
	clk := clockwork.NewFakeClockAt(time.Date(2024, 5, 1, 9, 59, 0, 0, time.UTC))
	f := NewFactory(WithClock(clk), WithLocation(time.UTC))

	var seen time.Time
	var j *Job
	j, _ = f.Every("tick", Minutes(1), func(context.Context) error {
		seen = j.NextTime()
		return errors.New("still re-armed")
	})
	clk.Advance(j.Delay())
	_ = j.PerformTask(context.Background())

	want := time.Date(2024, 5, 1, 10, 1, 0, 0, time.UTC)
	if !seen.Equal(want) {
		t.Fatalf("NextTime during run = %v, want %v", seen, want)
	}
}

func TestWaitForCompletion(t *testing.T) {
	t.Parallel()
	f := NewFactory(WithClock(clockwork.NewFakeClock()))
	j, _ := f.Now("wait", nop)

	done := make(chan error, 1)
	go func() { done <- j.WaitForCompletion(context.Background()) }()

	select {
	case <-done:
		t.Fatal("WaitForCompletion returned before the job ran")
	case <-time.After(20 * time.Millisecond):
	}

	_ = j.PerformTask(context.Background())
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("WaitForCompletion: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("WaitForCompletion did not return")
	}

	// Already complete: returns immediately.
	if err := j.WaitForCompletion(context.Background()); err != nil {
		t.Fatalf("second WaitForCompletion: %v", err)
	}

	other, _ := f.Now("never", nop)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if err := other.WaitForCompletion(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want deadline exceeded", err)
	}
}

func TestCronJob(t *testing.T) {
	t.Parallel()
	clk := clockwork.NewFakeClockAt(time.Date(2024, 5, 1, 10, 2, 0, 0, time.UTC))
	f := NewFactory(WithClock(clk), WithLocation(time.UTC))

	j, err := f.Cron("five", "*/5 * * * *", nop)
	if err != nil {
		t.Fatalf("Cron: %v", err)
	}
	if j.Interval() != 5*time.Minute || !j.IsRepeating() {
		t.Fatalf("interval = %v, want 5m repeating", j.Interval())
	}
	want := time.Date(2024, 5, 1, 10, 5, 0, 0, time.UTC)
	if !j.NextTime().Equal(want) {
		t.Fatalf("NextTime = %v, want %v", j.NextTime(), want)
	}
	clk.Advance(j.Delay())
	_ = j.PerformTask(context.Background())
	if got := j.NextTime(); !got.Equal(want.Add(5 * time.Minute)) {
		t.Fatalf("NextTime after run = %v, want %v", got, want.Add(5*time.Minute))
	}

	if _, err := f.Cron("bad", "not a cron", nop); err == nil {
		t.Fatal("expected error for invalid cron expression")
	}
}
