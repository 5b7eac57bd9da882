package quota

import (
	"fmt"
	"io"
	"reflect"
	"strings"
	"testing"

	"github.com/shineum/inquiry-relay/internal/intake"
)

const mb = 1 << 20

func attachments(sizes ...int64) []*intake.Attachment {
	out := make([]*intake.Attachment, 0, len(sizes))
	for i, size := range sizes {
		out = append(out, intake.NewAttachment(fmt.Sprintf("file%d", i+1), "text/plain", size, func() (io.ReadCloser, error) {
			return io.NopCloser(strings.NewReader("")), nil
		}))
	}
	return out
}

func names(atts []*intake.Attachment) []string {
	out := make([]string, 0, len(atts))
	for _, a := range atts {
		out = append(out, a.Name)
	}
	return out
}

func TestEnforce_CountExceeded(t *testing.T) {
	t.Parallel()

	res := Enforce(attachments(1, 1, 1, 1, 1, 1, 1), Policy{MaxCount: 5, MaxItemBytes: mb, MaxTotalBytes: 10 * mb})

	if got := names(res.Accepted); !reflect.DeepEqual(got, []string{"file1", "file2", "file3", "file4", "file5"}) {
		t.Errorf("accepted: got %v", got)
	}
	if len(res.Rejected) != 2 {
		t.Fatalf("rejected: got %d, want 2", len(res.Rejected))
	}
	for _, r := range res.Rejected {
		if r.Reason != CountExceeded {
			t.Errorf("%s: got reason %s, want %s", r.Name, r.Reason, CountExceeded)
		}
	}
}

func TestEnforce_AggregateExceeded(t *testing.T) {
	t.Parallel()

	res := Enforce(attachments(8*mb, 8*mb, 8*mb), Policy{MaxCount: 5, MaxItemBytes: 10 * mb, MaxTotalBytes: 20 * mb})

	if len(res.Accepted) != 2 {
		t.Fatalf("accepted: got %d, want 2", len(res.Accepted))
	}
	want := []Rejection{{Name: "file3", Size: 8 * mb, Reason: AggregateSizeExceeded}}
	if !reflect.DeepEqual(res.Rejected, want) {
		t.Errorf("rejected: got %+v, want %+v", res.Rejected, want)
	}
	if res.AcceptedBytes() != 16*mb {
		t.Errorf("AcceptedBytes: got %d", res.AcceptedBytes())
	}
}

func TestEnforce_PerItemBeforeAggregate(t *testing.T) {
	t.Parallel()

	// file2 is oversize on its own; file3 still fits the aggregate because
	// file2 never joined the running total.
	res := Enforce(attachments(4*mb, 12*mb, 4*mb), Policy{MaxCount: 5, MaxItemBytes: 10 * mb, MaxTotalBytes: 10 * mb})

	if got := names(res.Accepted); !reflect.DeepEqual(got, []string{"file1", "file3"}) {
		t.Errorf("accepted: got %v", got)
	}
	if len(res.Rejected) != 1 || res.Rejected[0].Reason != PerItemSizeExceeded {
		t.Errorf("rejected: got %+v", res.Rejected)
	}
}

func TestEnforce_CountCheckedFirst(t *testing.T) {
	t.Parallel()

	res := Enforce(attachments(1, 50*mb), Policy{MaxCount: 1, MaxItemBytes: mb, MaxTotalBytes: mb})

	if len(res.Rejected) != 1 || res.Rejected[0].Reason != CountExceeded {
		t.Errorf("rejected: got %+v, want count_exceeded", res.Rejected)
	}
}

func TestEnforce_ZeroByteItemsIgnored(t *testing.T) {
	t.Parallel()

	res := Enforce(attachments(0, 1, 0, 1, 0), Policy{MaxCount: 2, MaxItemBytes: mb, MaxTotalBytes: 2})

	if got := names(res.Accepted); !reflect.DeepEqual(got, []string{"file2", "file4"}) {
		t.Errorf("accepted: got %v", got)
	}
	if len(res.Rejected) != 0 {
		t.Errorf("zero-byte items must not be rejected: %+v", res.Rejected)
	}
}

func TestEnforce_Deterministic(t *testing.T) {
	t.Parallel()

	input := attachments(3*mb, 9*mb, 1*mb, 7*mb, 2*mb, 11*mb, 5*mb, 1*mb)
	p := Policy{MaxCount: 4, MaxItemBytes: 8 * mb, MaxTotalBytes: 12 * mb}

	first := Enforce(input, p)
	for i := 0; i < 10; i++ {
		again := Enforce(input, p)
		if !reflect.DeepEqual(names(first.Accepted), names(again.Accepted)) ||
			!reflect.DeepEqual(first.Rejected, again.Rejected) {
			t.Fatalf("run %d produced a different partition", i)
		}
	}

	if got := names(first.Accepted); !reflect.DeepEqual(got, []string{"file1", "file3", "file4", "file8"}) {
		t.Errorf("accepted: got %v", got)
	}
}

func TestEnforce_UnlimitedPolicy(t *testing.T) {
	t.Parallel()

	res := Enforce(attachments(1, 2, 3), Policy{})
	if len(res.Accepted) != 3 || len(res.Rejected) != 0 {
		t.Errorf("got %d accepted, %d rejected", len(res.Accepted), len(res.Rejected))
	}
}
