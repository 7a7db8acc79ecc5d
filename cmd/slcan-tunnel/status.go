package main

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/speters/slcan-tunnel/tunnel"

	"github.com/gorilla/mux"
)

func newRouter(sup *tunnel.Supervisor) *mux.Router {
	router := mux.NewRouter()
	router.HandleFunc("/version", versionInfo).Methods("GET")
	router.HandleFunc("/status", getStatus(sup)).Methods("GET")
	router.HandleFunc("/status/{direction}", getDirection(sup)).Methods("GET")
	return router
}

func versionInfo(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json; charset=UTF-8")
	w.WriteHeader(http.StatusOK)
	v := struct {
		Version   string `json:"version"`
		BuildDate string `json:"build_date"`
	}{Version: buildVersion, BuildDate: buildDate}
	j, _ := json.Marshal(v)
	w.Write(j)
}

func getStatus(sup *tunnel.Supervisor) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, sup.Status())
	}
}

func getDirection(sup *tunnel.Supervisor) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		params := mux.Vars(r)
		st := sup.Status()
		switch params["direction"] {
		case "inbound":
			writeJSON(w, st.Inbound)
		case "outbound":
			writeJSON(w, st.Outbound)
		default:
			w.WriteHeader(http.StatusNotFound)
			w.Write([]byte(fmt.Sprintf("No such direction %v", params["direction"])))
		}
	}
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	e := json.NewEncoder(w)
	e.SetIndent("", "    ")
	w.Header().Set("Content-Type", "application/json; charset=UTF-8")
	w.WriteHeader(http.StatusOK)
	e.Encode(v)
}
