package api

import (
	"context"
	"errors"
	"io/fs"
	"path/filepath"
	"strings"
	"time"

	"CoinPull/internal/domain/errs"
	models "CoinPull/internal/domain/models"
	domrepo "CoinPull/internal/domain/repository"
	"CoinPull/internal/service/csvsource"
	"CoinPull/internal/usecase"
	xhttp "CoinPull/pkg/http"
	xlogger "CoinPull/pkg/logger"
	"CoinPull/pkg/util"

	"github.com/labstack/echo/v4"
)

type healthChecker interface {
	Health(ctx context.Context) error
}

// PricesEchoHandler serves reads and on-demand ingestion.
type PricesEchoHandler struct {
	logger  *xlogger.Logger
	prices  *usecase.PricesUseCase
	ingest  *usecase.IngestUseCase
	history domrepo.SeriesFetcher
	health  healthChecker
	csvDir  string
}

func NewPricesEchoHandler(
	logger *xlogger.Logger,
	prices *usecase.PricesUseCase,
	ingest *usecase.IngestUseCase,
	history domrepo.SeriesFetcher,
	health healthChecker,
	csvDir string,
) *PricesEchoHandler {
	return &PricesEchoHandler{
		logger:  logger,
		prices:  prices,
		ingest:  ingest,
		history: history,
		health:  health,
		csvDir:  csvDir,
	}
}

func (h *PricesEchoHandler) RegisterRoutes(e *echo.Echo) {
	e.GET("/healthz", h.Health)

	g := e.Group("/api")
	g.GET("/prices", h.Prices)
	g.GET("/metadata", h.Metadata)
	g.POST("/ingest/csv", h.IngestCSV)
	g.POST("/ingest/history", h.IngestHistory)
}

func (h *PricesEchoHandler) Prices(c echo.Context) error {
	req := &models.PricesRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	start, ok := xhttp.ParseTimePtr(req.Start)
	if !ok {
		return xhttp.AppErrorResponse(c, xhttp.BadRequestErrorf("start %q is not a valid time", req.Start).WithField("start"))
	}
	end, ok := xhttp.ParseTimePtr(req.End)
	if !ok {
		return xhttp.AppErrorResponse(c, xhttp.BadRequestErrorf("end %q is not a valid time", req.End).WithField("end"))
	}

	page, err := h.prices.Page(c.Request().Context(), util.SplitList(req.IDs), start, end, req.Limit)
	if err != nil {
		h.logger.Error("prices usecase error", xlogger.Error(err))
		return h.fail(c, err, toAppError(err))
	}
	c.Response().Header().Set(echo.HeaderCacheControl, "private, max-age=15")
	return xhttp.PageResponse(c, page.Rows, int64(len(page.Rows)), page.Truncated)
}

func (h *PricesEchoHandler) Metadata(c echo.Context) error {
	req := &models.MetadataRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	rows, err := h.prices.Metadata(c.Request().Context(), util.SplitList(req.IDs))
	if err != nil {
		h.logger.Error("metadata usecase error", xlogger.Error(err))
		return h.fail(c, err, toAppError(err))
	}
	return xhttp.ListResponse(c, rows, int64(len(rows)))
}

func (h *PricesEchoHandler) IngestCSV(c echo.Context) error {
	req := &models.IngestCSVRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	path, ok := confine(h.csvDir, req.Path)
	if !ok {
		return xhttp.AppErrorResponse(c, xhttp.BadRequestError("path must stay inside the csv directory").WithField("path"))
	}
	var snapshot time.Time
	if req.Snapshot != "" {
		if snapshot, ok = xhttp.ParseTime(req.Snapshot); !ok {
			return xhttp.AppErrorResponse(c, xhttp.BadRequestErrorf("snapshot %q is not a valid time", req.Snapshot).WithField("snapshot"))
		}
	}

	report, err := h.ingest.IngestCSV(c.Request().Context(), csvsource.NewFile(path), snapshot)
	if err != nil {
		h.logger.Error("csv ingest error", xlogger.String("path", req.Path), xlogger.Error(err))
		return h.fail(c, err, toAppError(err).WithParam("report", report))
	}
	return xhttp.SuccessResponse(c, report)
}

func (h *PricesEchoHandler) IngestHistory(c echo.Context) error {
	req := &models.IngestHistoryRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	report, err := h.ingest.IngestHistory(c.Request().Context(), h.history, req.IDs, req.Days)
	if err != nil {
		h.logger.Error("history ingest error", xlogger.Strings("ids", req.IDs), xlogger.Error(err))
		return h.fail(c, err, toAppError(err).WithParam("report", report))
	}
	return xhttp.SuccessResponse(c, report)
}

func (h *PricesEchoHandler) Health(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 2*time.Second)
	defer cancel()
	if err := h.health.Health(ctx); err != nil {
		h.logger.Warn("health check failed", xlogger.Error(err))
		return xhttp.ServiceUnavailableResponse(c, map[string]string{"store": "down"})
	}
	return xhttp.SuccessResponse(c, map[string]string{"store": "ok"})
}

// retryAfterSeconds is advertised when a storage error is transient.
const retryAfterSeconds = "5"

// fail writes appErr and, for transient storage errors, a Retry-After hint.
func (h *PricesEchoHandler) fail(c echo.Context, err error, appErr *xhttp.AppError) error {
	if errs.IsRetryable(err) {
		c.Response().Header().Set(echo.HeaderRetryAfter, retryAfterSeconds)
	}
	return xhttp.AppErrorResponse(c, appErr)
}

// toAppError maps domain errors onto HTTP statuses.
func toAppError(err error) *xhttp.AppError {
	switch {
	case errors.Is(err, errs.ErrInvalidArgument):
		return xhttp.BadRequestError(err.Error()).WithError(err)
	case errors.Is(err, fs.ErrNotExist):
		return xhttp.NotFoundError("csv file not found").WithError(err)
	case errors.Is(err, errs.ErrStorage):
		return xhttp.ServiceUnavailableError("storage unavailable").WithError(err)
	case errors.Is(err, errs.ErrSourceUnavailable):
		return xhttp.BadGatewayError("upstream source unavailable").WithError(err)
	default:
		return xhttp.InternalError("Something went wrong").WithError(err)
	}
}

// confine resolves rel under dir and rejects anything escaping it.
func confine(dir, rel string) (string, bool) {
	if filepath.IsAbs(rel) {
		return "", false
	}
	full := filepath.Join(dir, rel)
	r, err := filepath.Rel(dir, full)
	if err != nil || r == ".." || strings.HasPrefix(r, ".."+string(filepath.Separator)) {
		return "", false
	}
	return full, true
}
