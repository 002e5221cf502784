package service

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"

	"github.com/mosaicnetworks/cellchain/src/conductor"
	"github.com/mosaicnetworks/cellchain/src/guest"
	hh "github.com/mosaicnetworks/cellchain/src/holohash"
	"github.com/mosaicnetworks/cellchain/src/peers"
	"github.com/mosaicnetworks/cellchain/src/store"
	"github.com/mosaicnetworks/cellchain/src/types"
	"github.com/sirupsen/logrus"
)

// Service exposes a conductor over HTTP with JSON bodies.
type Service struct {
	sync.Mutex

	bindAddress string
	conductor   *conductor.Conductor
	mux         *http.ServeMux
	logger      *logrus.Entry
}

// NewService ...
func NewService(bindAddress string, c *conductor.Conductor, logger *logrus.Entry) *Service {
	service := Service{
		bindAddress: bindAddress,
		conductor:   c,
		mux:         http.NewServeMux(),
		logger:      logger,
	}

	service.registerHandlers()

	return &service
}

func (s *Service) registerHandlers() {
	s.logger.Debug("Registering cellchain API handlers")
	s.mux.HandleFunc("/stats", s.makeHandler(s.GetStats))
	s.mux.HandleFunc("/cells", s.makeHandler(s.GetCells))
	s.mux.HandleFunc("/chain/", s.makeHandler(s.GetChain))
	s.mux.HandleFunc("/record/", s.makeHandler(s.GetRecord))
	s.mux.HandleFunc("/peers/", s.makeHandler(s.GetPeers))
	s.mux.HandleFunc("/call", s.CallZome)
}

// Handler returns the API handler, for embedding in another server.
func (s *Service) Handler() http.Handler {
	return s.mux
}

func (s *Service) makeHandler(fn func(http.ResponseWriter, *http.Request)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.Lock()
		defer s.Unlock()

		// enable CORS
		w.Header().Set("Access-Control-Allow-Origin", "*")

		fn(w, r)
	}
}

// Serve calls ListenAndServe. This is a blocking call.
func (s *Service) Serve() {
	s.logger.WithField("bind_address", s.bindAddress).Debug("Serving cellchain API")

	err := http.ListenAndServe(s.bindAddress, s.mux)
	if err != nil {
		s.logger.Error(err)
	}
}

// SpaceStats summarises one DNA's space.
type SpaceStats struct {
	Dna         hh.DnaHash     `json:"dna"`
	Cells       int            `json:"cells"`
	Peers       int            `json:"peers"`
	Queue       int            `json:"queue"`
	Quarantined int            `json:"quarantined"`
	Stages      map[string]int `json:"stages"`
}

// GetStats ...
func (s *Service) GetStats(w http.ResponseWriter, r *http.Request) {
	var stats []SpaceStats
	for _, sp := range s.conductor.Spaces() {
		st := SpaceStats{
			Dna:         sp.DnaHash(),
			Cells:       len(sp.Cells()),
			Queue:       sp.Dht.QueueLen(),
			Quarantined: len(sp.Dht.Quarantined()),
			Stages:      make(map[string]int),
		}
		if n := sp.Network(); n != nil {
			st.Peers = n.PeerSet().Len()
		}
		err := sp.DHT().View(func(txn *store.Txn) error {
			for stage := store.StagePending; stage <= store.StageAbandoned; stage++ {
				c, err := txn.CountStage(stage)
				if err != nil {
					return err
				}
				st.Stages[stage.String()] = c
			}
			return nil
		})
		if err != nil {
			s.logger.WithError(err).Error("Counting stages")
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		stats = append(stats, st)
	}

	writeJSON(w, stats)
}

// GetCells lists the installed apps and their cells.
func (s *Service) GetCells(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.conductor.Apps())
}

// GetChain returns the source chain of a cell: /chain/{dna}/{agent}
func (s *Service) GetChain(w http.ResponseWriter, r *http.Request) {
	parts, err := hashParams(r.URL.Path, "/chain/", 2)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	cell, err := s.conductor.Cell(conductor.CellID{Dna: parts[0], Agent: parts[1]})
	if err != nil {
		http.Error(w, err.Error(), statusOf(err))
		return
	}
	recs, err := cell.Records()
	if err != nil {
		s.logger.WithError(err).Errorf("Reading chain of %s", cell.ID())
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, recs)
}

// GetRecord fetches a record through the cascade: /record/{dna}/{hash}
func (s *Service) GetRecord(w http.ResponseWriter, r *http.Request) {
	parts, err := hashParams(r.URL.Path, "/record/", 2)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	sp, ok := s.conductor.Space(parts[0])
	if !ok {
		http.Error(w, "unknown dna", http.StatusNotFound)
		return
	}
	opts := types.GetOptions{}
	if r.URL.Query().Get("local") != "" {
		opts.Strategy = types.GetLocal
	}
	rec, err := sp.Cascade().Get(r.Context(), parts[1], opts)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if rec == nil {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	writeJSON(w, rec)
}

// GetPeers returns the peer set of a space: /peers/{dna}
func (s *Service) GetPeers(w http.ResponseWriter, r *http.Request) {
	parts, err := hashParams(r.URL.Path, "/peers/", 1)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	sp, ok := s.conductor.Space(parts[0])
	if !ok {
		http.Error(w, "unknown dna", http.StatusNotFound)
		return
	}
	ps := []*peers.Peer{}
	if n := sp.Network(); n != nil {
		ps = n.PeerSet().Peers
	}
	writeJSON(w, ps)
}

// CallRequest is the body of POST /call. Payload is handed to the zome
// function as raw JSON.
type CallRequest struct {
	Cell       conductor.CellID `json:"cell"`
	Zome       string           `json:"zome"`
	Fn         string           `json:"fn"`
	Payload    json.RawMessage  `json:"payload"`
	Provenance hh.AgentPubKey   `json:"provenance"`
	CapSecret  string           `json:"cap_secret,omitempty"`
}

// CallZome runs a zome call. It does not hold the service lock since calls
// can be long.
func (s *Service) CallZome(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	if r.Method != http.MethodPost {
		http.Error(w, "POST only", http.StatusMethodNotAllowed)
		return
	}
	var req CallRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if req.Provenance.IsZero() {
		req.Provenance = req.Cell.Agent
	}
	call := conductor.ZomeCall{
		Cell:       req.Cell,
		Zome:       req.Zome,
		Fn:         req.Fn,
		Payload:    req.Payload,
		Provenance: req.Provenance,
	}
	if req.CapSecret != "" {
		call.CapSecret = []byte(req.CapSecret)
	}

	out, err := s.conductor.CallZome(r.Context(), call)
	if err != nil {
		s.logger.WithError(err).WithField("fn", req.Fn).Debug("Zome call")
		http.Error(w, err.Error(), statusOf(err))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if !json.Valid(out) {
		json.NewEncoder(w).Encode(out)
		return
	}
	w.Write(out)
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func hashParams(path, prefix string, n int) ([]hh.HoloHash, error) {
	parts := strings.Split(strings.Trim(strings.TrimPrefix(path, prefix), "/"), "/")
	if len(parts) != n {
		return nil, errors.New("wrong number of parameters")
	}
	res := make([]hh.HoloHash, n)
	for i, p := range parts {
		h, err := hh.Parse(p)
		if err != nil {
			return nil, err
		}
		res[i] = h
	}
	return res, nil
}

func statusOf(err error) int {
	var ge *guest.GuestError
	var ie *conductor.InitFailedError
	var ae *conductor.AuthoringError
	switch {
	case errors.Is(err, conductor.ErrCapabilityDenied):
		return http.StatusForbidden
	case errors.Is(err, conductor.ErrUnknownCell),
		errors.Is(err, guest.ErrUnknownZome),
		errors.Is(err, guest.ErrUnknownFn):
		return http.StatusNotFound
	case errors.Is(err, conductor.ErrCellNotRunning):
		return http.StatusConflict
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.As(err, &ge), errors.As(err, &ie), errors.As(err, &ae):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}
