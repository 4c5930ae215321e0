// Copyright 2020 Google Inc. All Rights Reserved.
// This file is available under the Apache license.

package server

import (
	"html/template"
	"net/http"
	"sort"
)

const statusTemplate = `
<!DOCTYPE html>
<html>
<head>
<title>fswatchd on {{.BindAddress}}</title>
</head>
<body>
<h1>fswatchd on {{.BindAddress}}</h1>
<p>Build: {{.BuildInfo}}</p>
<p>Metrics: <a href="/metrics">prometheus</a></p>
<p>Info: <a href="/tracez">tracez</a>, <a href="/rpcz">rpcz</a></p>
<p>Debug: {{ if .HTTPDebugEndpoints }}<a href="/debug/pprof">debug/pprof</a>, <a href="/debug/vars">debug/vars</a>{{ else }} disabled {{ end }}</p>
<h2>Watchers</h2>
<p>{{ len .Watchers }} open{{ if .Watchers }}: {{ range $i, $id := .Watchers }}{{ if $i }}, {{ end }}{{ $id }}{{ end }}{{ end }}</p>
</body>
</html>
`

var statusTmpl = template.Must(template.New("status").Parse(statusTemplate))

// ServeHTTP satisfies the http.Handler interface, and is used to serve the
// root page of fswatchd for online status reporting.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	ids := s.svc.Handles()
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	data := struct {
		BindAddress        string
		BuildInfo          string
		HTTPDebugEndpoints bool
		Watchers           []uint32
	}{
		s.Addr(),
		s.buildInfo.String(),
		s.httpDebugEndpoints,
		nil,
	}
	for _, id := range ids {
		data.Watchers = append(data.Watchers, uint32(id))
	}
	w.Header().Add("Content-type", "text/html")
	w.WriteHeader(http.StatusOK)
	if err := statusTmpl.Execute(w, data); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
