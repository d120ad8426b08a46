package trace

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNoopTracer_NeverPanics(t *testing.T) {
	var tr Tracer = NoopTracer{}
	ctx, span := tr.Start(context.Background(), "team.run", String("team", "reviewers"), Int("agents", 3))
	span.SetAttr(Bool("ok", true))
	span.Event("merge_start", Float("findings", 4))
	span.Error(errors.New("boom"))
	span.End()
	assert.NotNil(t, ctx)
}
