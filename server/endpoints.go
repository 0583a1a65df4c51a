package server

import (
	"context"

	"github.com/hazyhaar/ctxsync/idgen"
	"github.com/hazyhaar/ctxsync/kit"
	"github.com/hazyhaar/ctxsync/runlog"
	"github.com/hazyhaar/ctxsync/snapshot"
)

type saveReq struct{}

type restoreReq struct{}

type scriptsReq struct {
	// Enabled switches scripts on or off; nil only reports the state.
	Enabled *bool `json:"enabled,omitempty"`
}

type scriptsResp struct {
	ScriptsEnabled bool `json:"scripts_enabled"`
}

type historyReq struct {
	Kind  string `json:"kind,omitempty"`
	Limit int    `json:"limit,omitempty"`
}

type historyResp struct {
	Runs []runlog.Run `json:"runs"`
}

type runReq struct {
	ID string `json:"id"`
}

// Endpoints are the transport-neutral operations of a Service.
type Endpoints struct {
	Save    kit.Endpoint
	Restore kit.Endpoint
	Scripts kit.Endpoint
	History kit.Endpoint
	Run     kit.Endpoint
}

// Endpoints builds the Service endpoints with request ids and call logging.
func (s *Service) Endpoints() Endpoints {
	wrap := func(op string, ep kit.Endpoint) kit.Endpoint {
		return kit.Chain(
			kit.WithRequestIDs(idgen.Prefixed("req_", idgen.Default)),
			kit.Logging(s.logger, op),
		)(ep)
	}
	return Endpoints{
		Save:    wrap("save", s.saveEndpoint),
		Restore: wrap("restore", s.restoreEndpoint),
		Scripts: wrap("scripts", s.scriptsEndpoint),
		History: wrap("history", s.historyEndpoint),
		Run:     wrap("run", s.runEndpoint),
	}
}

// Run endpoints return the report alongside a run error so transports can
// show which sites completed.
func (s *Service) saveEndpoint(ctx context.Context, _ any) (any, error) {
	return reportOrNil(s.Save(ctx))
}

func (s *Service) restoreEndpoint(ctx context.Context, _ any) (any, error) {
	return reportOrNil(s.Restore(ctx))
}

func reportOrNil(rep *snapshot.Report, err error) (any, error) {
	if rep == nil {
		return nil, err
	}
	return rep, err
}

func (s *Service) scriptsEndpoint(ctx context.Context, req any) (any, error) {
	r := req.(*scriptsReq)
	if r.Enabled != nil {
		if err := s.SetScripts(ctx, *r.Enabled); err != nil {
			return nil, err
		}
	}
	enabled, err := s.ScriptsEnabled(ctx)
	if err != nil {
		return nil, err
	}
	return &scriptsResp{ScriptsEnabled: enabled}, nil
}

func (s *Service) historyEndpoint(ctx context.Context, req any) (any, error) {
	r := req.(*historyReq)
	runs, err := s.History(ctx, runlog.Filter{Kind: snapshot.RunKind(r.Kind), Limit: r.Limit})
	if err != nil {
		return nil, err
	}
	return &historyResp{Runs: runs}, nil
}

func (s *Service) runEndpoint(ctx context.Context, req any) (any, error) {
	return s.Run(ctx, req.(*runReq).ID)
}
