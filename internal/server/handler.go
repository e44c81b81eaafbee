package server

import (
	"fmt"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/hashicorp/go-hclog"

	"github.com/MansoorButt/kube-infra/internal/model"
)

const OPERATOR_STOP_REASON = "operator stop"

// RoundController is the part of the coordinator the operator API drives.
type RoundController interface {
	RoundID() string
	Status() model.RoundStatus
	Submissions() []model.Submission
	Reason() string
	Shutdown(reason string)
}

type Handler struct {
	logger     hclog.Logger
	controller RoundController
}

func NewHandler(logger hclog.Logger, controller RoundController) *Handler {
	return &Handler{
		logger:     logger,
		controller: controller,
	}
}

func (handler *Handler) GetStatus(rw http.ResponseWriter, r *http.Request) {
	rw.Header().Add("Content-Type", "application/json")

	response := StatusResponse{
		Round:       handler.controller.Status(),
		Submissions: handler.controller.Submissions(),
		StopReason:  handler.controller.Reason(),
	}

	rw.WriteHeader(http.StatusOK)
	if err := toJSON(response, rw); err != nil {
		handler.logger.Error("error writing status", "error", err)
	}
}

func (handler *Handler) StopFl(rw http.ResponseWriter, r *http.Request) {
	rw.Header().Add("Content-Type", "application/json")

	roundId := handler.controller.RoundID()
	handler.logger.Info(fmt.Sprintf("Stopping FL round with ID: %s", roundId))

	handler.controller.Shutdown(OPERATOR_STOP_REASON)

	rw.WriteHeader(http.StatusOK)
	toJSON(StopResponse{RoundId: roundId, StopReason: handler.controller.Reason()}, rw)
}

// NewRouter wires the operator endpoints. metricsHandler may be nil.
func NewRouter(handler *Handler, metricsHandler http.Handler) *mux.Router {
	router := mux.NewRouter()
	router.HandleFunc("/fl/status", handler.GetStatus).Methods(http.MethodGet)
	router.HandleFunc("/fl/stop", handler.StopFl).Methods(http.MethodPost)
	if metricsHandler != nil {
		router.Handle("/metrics", metricsHandler).Methods(http.MethodGet)
	}
	return router
}
