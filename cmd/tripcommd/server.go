package main

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/golang/glog"
	"github.com/gorilla/mux"

	"github.com/robotalks/tripcomm/pkg/framework"
	"github.com/robotalks/tripcomm/pkg/link"
	"github.com/robotalks/tripcomm/pkg/link/goose"
)

type sessionView struct {
	ID      string    `json:"id"`
	Command uint8     `json:"command"`
	Buffer  string    `json:"buffer"`
	Status  string    `json:"status"`
	Started time.Time `json:"started"`
	Ended   time.Time `json:"ended,omitempty"`
	Error   string    `json:"error,omitempty"`
}

type portView struct {
	Name    string       `json:"name"`
	Stats   link.Stats   `json:"stats"`
	Session *sessionView `json:"session,omitempty"`
}

type server struct {
	ports  *link.PortSet
	engine *goose.Engine
	loops  map[string]*framework.Loop
	runner *framework.Runner
}

func (s *server) router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/ports", s.listPorts).Methods(http.MethodGet)
	r.HandleFunc("/ports/{name}", s.getPort).Methods(http.MethodGet)
	r.HandleFunc("/goose/subscriptions", s.listSubscriptions).Methods(http.MethodGet)
	r.HandleFunc("/goose/subscriptions/{id}", s.getSubscription).Methods(http.MethodGet)
	r.HandleFunc("/goose/stats", s.gooseStats).Methods(http.MethodGet)
	r.HandleFunc("/loops", s.listLoops).Methods(http.MethodGet)
	r.HandleFunc("/tasks", s.listTasks).Methods(http.MethodGet)
	return r
}

func viewPort(p *link.Port) portView {
	v := portView{Name: p.Name(), Stats: p.Stats()}
	if sess, ok := p.Session(); ok {
		v.Session = &sessionView{
			ID:      sess.ID.String(),
			Command: uint8(sess.Command),
			Buffer:  sess.Key.String(),
			Status:  sess.Status.String(),
			Started: sess.Started,
			Ended:   sess.Ended,
		}
		if sess.Err != nil {
			v.Session.Error = sess.Err.Error()
		}
	}
	return v
}

func (s *server) listPorts(w http.ResponseWriter, _ *http.Request) {
	ports := s.ports.Ports()
	views := make([]portView, 0, len(ports))
	for _, p := range ports {
		views = append(views, viewPort(p))
	}
	writeJSON(w, views)
}

func (s *server) getPort(w http.ResponseWriter, r *http.Request) {
	p, ok := s.ports.Get(mux.Vars(r)["name"])
	if !ok {
		http.NotFound(w, r)
		return
	}
	writeJSON(w, viewPort(p))
}

func (s *server) listSubscriptions(w http.ResponseWriter, r *http.Request) {
	if s.engine == nil {
		http.Error(w, "publish link disabled", http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, s.engine.Subscriptions())
}

func (s *server) getSubscription(w http.ResponseWriter, r *http.Request) {
	if s.engine == nil {
		http.Error(w, "publish link disabled", http.StatusServiceUnavailable)
		return
	}
	id, err := strconv.ParseUint(mux.Vars(r)["id"], 0, 16)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	sub, ok := s.engine.Subscription(uint16(id))
	if !ok {
		http.NotFound(w, r)
		return
	}
	writeJSON(w, sub)
}

func (s *server) gooseStats(w http.ResponseWriter, r *http.Request) {
	if s.engine == nil {
		http.Error(w, "publish link disabled", http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, s.engine.Stats())
}

func (s *server) listLoops(w http.ResponseWriter, _ *http.Request) {
	stats := make(map[string]framework.LoopStats, len(s.loops))
	for name, l := range s.loops {
		stats[name] = l.Stats()
	}
	writeJSON(w, stats)
}

func (s *server) listTasks(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, s.runner.Tasks())
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	bytes, err := json.Marshal(v)
	if err != nil {
		glog.Errorf("http: encode: %v", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(bytes)
}
