package api

import (
	"context"
	"encoding/json"
	stdErrors "errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	xerrors "IntentChain/internal/errors"
	"IntentChain/internal/execution"
	"IntentChain/internal/ledger"
	"IntentChain/internal/observability/metrics"
	"IntentChain/internal/pipeline"
)

// Server 负责暴露 REST 接口,供外部编译意图并提交交易计划。
type Server struct {
	addr       string
	pipeline   *pipeline.Pipeline
	executions *execution.Service
}

// NewServer 构造 API 服务实例。
func NewServer(addr string, pl *pipeline.Pipeline, executions *execution.Service) *Server {
	return &Server{addr: addr, pipeline: pl, executions: executions}
}

// Start 启动 HTTP 服务,直到上下文取消或出现错误。
func (s *Server) Start(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/compile", s.instrument("compile", s.handleCompile))
	mux.HandleFunc("/api/v1/executions", s.instrument("executions", s.handleExecutions))
	mux.HandleFunc("/api/v1/executions/", s.instrument("execution_detail", s.handleExecutionDetail))
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.Handle("/metrics", metrics.Handler())

	server := &http.Server{
		Addr:              s.addr,
		Handler:           withContext(ctx, mux),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !stdErrors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

// compileResponse 在流水线结果之上附带可提交的交易计划。
type compileResponse struct {
	*pipeline.Response
	Plan *ledger.Plan `json:"plan,omitempty"`
}

// handleCompile 将自然语言意图编译为交易计划。
func (s *Server) handleCompile(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "仅支持 POST", http.StatusMethodNotAllowed)
		return
	}
	if s.pipeline == nil {
		http.Error(w, "流水线未初始化", http.StatusServiceUnavailable)
		return
	}

	var req pipeline.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "请求体解析失败", http.StatusBadRequest)
		return
	}

	resp, err := s.pipeline.Run(r.Context(), req)
	if err != nil {
		code := xerrors.CodeOf(err)
		metrics.ObserveCompilation(string(code))
		writeError(w, code, err)
		return
	}

	metrics.ObserveCompilation(string(resp.Status))
	payload := compileResponse{Response: resp}
	if resp.Assembly != nil {
		payload.Plan = resp.Assembly.Plan
	}
	writeJSON(w, http.StatusOK, payload)
}

func (s *Server) handleExecutions(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.handleSubmitExecution(w, r)
	case http.MethodGet:
		s.handleListExecutions(w, r)
	default:
		http.Error(w, "仅支持 GET/POST", http.StatusMethodNotAllowed)
	}
}

// submitRequest 描述一次异步提交请求。
type submitRequest struct {
	ID          string       `json:"id,omitempty"`
	Intent      string       `json:"intent,omitempty"`
	SyntheticID string       `json:"synthetic_id,omitempty"`
	Chain       string       `json:"chain,omitempty"`
	Address     string       `json:"address"`
	Plan        *ledger.Plan `json:"plan"`
	Effects     []string     `json:"effects,omitempty"`
}

func (s *Server) handleSubmitExecution(w http.ResponseWriter, r *http.Request) {
	if s.executions == nil {
		http.Error(w, "提交服务未初始化", http.StatusServiceUnavailable)
		return
	}

	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "请求体解析失败", http.StatusBadRequest)
		return
	}

	record, err := s.executions.Submit(r.Context(), execution.SubmitRequest{
		ID:          req.ID,
		Intent:      req.Intent,
		SyntheticID: req.SyntheticID,
		Chain:       req.Chain,
		Address:     req.Address,
		Plan:        req.Plan,
		Effects:     req.Effects,
	})
	if err != nil {
		writeError(w, xerrors.CodeOf(err), err)
		return
	}
	writeJSON(w, http.StatusAccepted, record)
}

func (s *Server) handleListExecutions(w http.ResponseWriter, r *http.Request) {
	if s.executions == nil {
		http.Error(w, "提交服务未初始化", http.StatusServiceUnavailable)
		return
	}

	opts := listOptionsFromQuery(r)
	records, err := s.executions.List(r.Context(), opts...)
	if err != nil {
		writeError(w, xerrors.CodeOf(err), err)
		return
	}
	writeJSON(w, http.StatusOK, records)
}

func (s *Server) handleExecutionDetail(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "仅支持 GET", http.StatusMethodNotAllowed)
		return
	}
	if s.executions == nil {
		http.Error(w, "提交服务未初始化", http.StatusServiceUnavailable)
		return
	}

	id := strings.TrimPrefix(r.URL.Path, "/api/v1/executions/")
	if id == "" || strings.Contains(id, "/") {
		http.Error(w, "缺少记录 ID", http.StatusBadRequest)
		return
	}
	if id == "stats" {
		s.handleExecutionStats(w, r)
		return
	}

	record, err := s.executions.Get(r.Context(), id)
	if err != nil {
		if stdErrors.Is(err, execution.ErrRecordNotFound) {
			http.Error(w, "记录不存在", http.StatusNotFound)
			return
		}
		writeError(w, xerrors.CodeOf(err), err)
		return
	}
	writeJSON(w, http.StatusOK, record)
}

func (s *Server) handleExecutionStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.executions.Stats(r.Context(), listOptionsFromQuery(r)...)
	if err != nil {
		writeError(w, xerrors.CodeOf(err), err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// instrument 记录每个端点的请求量与时延。
func (s *Server) instrument(name string, handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		handler(recorder, r)
		metrics.ObserveHTTPRequest(name, r.Method, recorder.status, time.Since(start))
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func listOptionsFromQuery(r *http.Request) []execution.ListOption {
	query := r.URL.Query()
	opts := make([]execution.ListOption, 0, 6)
	if raw := query.Get("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			opts = append(opts, execution.WithLimit(parsed))
		}
	}
	if raw := query.Get("offset"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed >= 0 {
			opts = append(opts, execution.WithOffset(parsed))
		}
	}
	if raw := query.Get("status"); raw != "" {
		statuses := make([]execution.Status, 0, 4)
		for _, value := range strings.Split(raw, ",") {
			statuses = append(statuses, execution.Status(strings.TrimSpace(value)))
		}
		opts = append(opts, execution.WithStatuses(statuses...))
	}
	if chain := query.Get("chain"); chain != "" {
		opts = append(opts, execution.WithChain(chain))
	}
	if address := query.Get("address"); address != "" {
		opts = append(opts, execution.WithAddress(address))
	}
	if q := query.Get("q"); q != "" {
		opts = append(opts, execution.WithQuery(q))
	}
	return opts
}

// errorResponse 是统一的错误返回结构。
type errorResponse struct {
	Code    string   `json:"code"`
	Message string   `json:"message"`
	Missing []string `json:"missing_fields,omitempty"`
}

func writeError(w http.ResponseWriter, code xerrors.Code, err error) {
	resp := errorResponse{Code: string(code), Message: err.Error()}
	if typed, ok := xerrors.From(err); ok {
		if missing, exists := typed.Metadata()["missing_fields"]; exists && missing != "" {
			resp.Missing = strings.Split(missing, ",")
		}
	}
	writeJSON(w, httpStatusFor(code), resp)
}

func httpStatusFor(code xerrors.Code) int {
	switch code {
	case xerrors.CodeInputError, xerrors.CodeInvalidArgument, execution.CodeRecordValidation:
		return http.StatusBadRequest
	case xerrors.CodeResolutionFailed, xerrors.CodeParameterUnresolved:
		return http.StatusUnprocessableEntity
	case xerrors.CodeSecurityRejected:
		return http.StatusForbidden
	case xerrors.CodeResourceUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// withContext 确保请求处理能够感知根上下文取消。
func withContext(ctx context.Context, handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-ctx.Done():
			http.Error(w, "服务已关闭", http.StatusServiceUnavailable)
			return
		default:
		}
		handler.ServeHTTP(w, r)
	})
}
