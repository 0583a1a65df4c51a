package runlog

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hazyhaar/ctxsync/dbopen"
	"github.com/hazyhaar/ctxsync/idgen"
	"github.com/hazyhaar/ctxsync/kit"
	"github.com/hazyhaar/ctxsync/snapshot"
)

func newLog(t *testing.T) *Log {
	t.Helper()
	l, err := Open(context.Background(), dbopen.OpenMemory(t), WithIDGenerator(idgen.Sequence("run_")))
	require.NoError(t, err)
	return l
}

func report(id string, kind snapshot.RunKind, started time.Time, failed bool) *snapshot.Report {
	rep := &snapshot.Report{
		RunID:    id,
		Kind:     kind,
		Started:  started,
		Finished: started.Add(time.Second),
		Sites: []snapshot.SiteResult{
			{URL: "https://example.com/a", Domain: "example.com", Cookies: 3},
		},
		CookiesSet: 3,
	}
	if failed {
		rep.Sites = append(rep.Sites, snapshot.SiteResult{
			URL: "https://stuck.example.org/",
			Err: &snapshot.Error{Kind: snapshot.KindTimeout, Op: string(kind), URL: "https://stuck.example.org/", Err: errors.New("load timeout")},
		})
	}
	return rep
}

func TestRecordAndList(t *testing.T) {
	l := newLog(t)
	ctx := kit.WithRequestID(kit.WithTransport(context.Background(), "http"), "req_9")
	base := time.UnixMilli(1_700_000_000_000)

	_, err := l.Record(ctx, snapshot.RunSave, report("run_a", snapshot.RunSave, base, false), nil)
	require.NoError(t, err)
	_, err = l.Record(ctx, snapshot.RunRestore, report("run_b", snapshot.RunRestore, base.Add(time.Minute), true), nil)
	require.NoError(t, err)

	runs, err := l.List(context.Background(), Filter{})
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "run_b", runs[0].ID, "most recent first")
	assert.Equal(t, StatusPartial, runs[0].Status)
	assert.Equal(t, 2, runs[0].Sites)
	assert.Equal(t, 1, runs[0].Failed)
	assert.Equal(t, "http", runs[0].Transport)
	assert.Equal(t, "req_9", runs[0].RequestID)
	assert.True(t, runs[0].Started.Equal(base.Add(time.Minute)))

	var stored struct {
		Sites []struct {
			Error *struct {
				Kind string `json:"kind"`
			} `json:"error"`
		} `json:"sites"`
	}
	require.NoError(t, json.Unmarshal(runs[0].Report, &stored))
	require.Len(t, stored.Sites, 2)
	assert.Equal(t, "timeout", stored.Sites[1].Error.Kind)

	assert.Equal(t, StatusSuccess, runs[1].Status)

	saves, err := l.List(context.Background(), Filter{Kind: snapshot.RunSave})
	require.NoError(t, err)
	require.Len(t, saves, 1)
	assert.Equal(t, "run_a", saves[0].ID)

	limited, err := l.List(context.Background(), Filter{Limit: 1})
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestRecordRunError(t *testing.T) {
	l := newLog(t)
	runErr := &snapshot.Error{Kind: snapshot.KindConfig, Op: "save", Err: errors.New("no access token configured")}

	run, err := l.Record(context.Background(), snapshot.RunSave, nil, runErr)
	require.NoError(t, err)
	assert.Equal(t, "run_1", run.ID)
	assert.Equal(t, StatusError, run.Status)
	assert.Equal(t, "cli", run.Transport)

	got, err := l.Get(context.Background(), "run_1")
	require.NoError(t, err)
	assert.Equal(t, snapshot.KindConfig, got.ErrorKind)
	assert.Contains(t, got.ErrorMessage, "no access token")
	assert.JSONEq(t, `{}`, string(got.Report))
	assert.Empty(t, got.RequestID)
}

func TestGetUnknown(t *testing.T) {
	_, err := newLog(t).Get(context.Background(), "run_missing")
	assert.ErrorIs(t, err, ErrNoRun)
}
