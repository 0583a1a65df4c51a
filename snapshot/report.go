package snapshot

import "time"

// RunKind tells save runs from restore runs.
type RunKind string

const (
	RunSave    RunKind = "save"
	RunRestore RunKind = "restore"
)

// SiteResult is the outcome for one site of a run.
type SiteResult struct {
	URL     string `json:"url"`
	Domain  string `json:"domain,omitempty"`
	Cookies int    `json:"cookies"`
	Err     *Error `json:"error,omitempty"`
}

// Report summarises a run.
type Report struct {
	RunID         string       `json:"run_id"`
	Kind          RunKind      `json:"kind"`
	Started       time.Time    `json:"started"`
	Finished      time.Time    `json:"finished"`
	Sites         []SiteResult `json:"sites"`
	CookiesSet    int          `json:"cookies_set,omitempty"`
	CookiesFailed int          `json:"cookies_failed,omitempty"`
	Revealed      int          `json:"revealed,omitempty"`
}

func newReport(id string, kind RunKind) *Report {
	return &Report{RunID: id, Kind: kind, Started: time.Now(), Sites: []SiteResult{}}
}

func (r *Report) addSite(url string, entry *SiteEntry, err error) {
	res := SiteResult{URL: url}
	if entry != nil {
		res.Domain = entry.Domain
		res.Cookies = len(entry.Cookies)
	}
	if err != nil {
		se, ok := err.(*Error)
		if !ok {
			se = &Error{Kind: KindNavigation, URL: url, Err: err}
		}
		res.Err = se
	}
	r.Sites = append(r.Sites, res)
}

func (r *Report) finish() *Report {
	r.Finished = time.Now()
	return r
}

// Failed returns the number of sites that reported an error.
func (r *Report) Failed() int {
	n := 0
	for _, s := range r.Sites {
		if s.Err != nil {
			n++
		}
	}
	return n
}
