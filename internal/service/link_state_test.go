package service

import (
	"testing"

	"github.com/dushixiang/pika-relay/internal/stats"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/zap"
)

func TestLinkStateTransitions(t *testing.T) {
	st := stats.New()
	link := NewLinkState(zap.NewNop(), st)

	if link.Mode() != LinkNormal || link.Degraded() {
		t.Fatalf("初始状态应为 NORMAL")
	}
	if link.Recover() {
		t.Error("NORMAL 下 Recover() 不应改变状态")
	}

	if !link.Degrade("ping failed") {
		t.Fatal("首次 Degrade() 应改变状态")
	}
	if link.Degrade("again") {
		t.Error("重复 Degrade() 不应改变状态")
	}
	if link.Reason() != "ping failed" {
		t.Errorf("降级原因 = %q", link.Reason())
	}
	if got := testutil.ToFloat64(st.LinkDegraded); got != 1 {
		t.Errorf("降级指标应为 1，实际 %f", got)
	}

	if !link.Recover() || link.Degraded() {
		t.Fatal("Recover() 后应回到 NORMAL")
	}
	if got := testutil.ToFloat64(st.LinkDegraded); got != 0 {
		t.Errorf("恢复后指标应为 0，实际 %f", got)
	}
}
