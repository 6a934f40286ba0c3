package intentchain

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestCompileReturnsPlan(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/compile" {
			t.Fatalf("unexpected path: %s", r.URL.Path)
		}
		if r.Method != http.MethodPost {
			t.Fatalf("unexpected method: %s", r.Method)
		}
		var req CompileRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("unexpected body: %v", err)
		}
		if req.ActingAddress != "0xabc" {
			t.Fatalf("unexpected acting address: %s", req.ActingAddress)
		}
		_ = json.NewEncoder(w).Encode(CompileResult{
			Status:      "ready",
			SyntheticID: "combined-1",
			Effects:     []string{"转账 5 到 alice"},
			Plan:        json.RawMessage(`{"acting_address":"0xabc","operations":[]}`),
		})
	}))
	defer srv.Close()

	client := NewClient(srv.URL, srv.Client())

	result, err := client.Compile(context.Background(), CompileRequest{
		NaturalLanguageInput: "给 alice 转 5 个代币",
		ActingAddress:        "0xabc",
	})
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	if result.Status != "ready" {
		t.Fatalf("unexpected status: %s", result.Status)
	}
	if len(result.Plan) == 0 {
		t.Fatal("expected plan payload")
	}
}

func TestCompileCollectingCarriesMissingFields(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(CompileResult{
			Status:        "collecting",
			MissingFields: []string{"recipient"},
		})
	}))
	defer srv.Close()

	client := NewClient(srv.URL, srv.Client())
	result, err := client.Compile(context.Background(), CompileRequest{ActingAddress: "0xabc"})
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	if result.Status != "collecting" || len(result.MissingFields) != 1 {
		t.Fatalf("unexpected result: %+v", result)
	}
}

func TestSubmitAndGetExecution(t *testing.T) {
	submitted := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/api/v1/executions" && r.Method == http.MethodPost:
			submitted = true
			w.WriteHeader(http.StatusAccepted)
			_ = json.NewEncoder(w).Encode(ExecutionRecord{ID: "exec-1", Status: "pending"})
		case r.URL.Path == "/api/v1/executions/exec-1" && r.Method == http.MethodGet:
			_ = json.NewEncoder(w).Encode(ExecutionRecord{
				ID:     "exec-1",
				Status: "succeeded",
				Result: &ExecutionOutcome{Digest: "0xfeed", BlockNumber: "12"},
			})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	client := NewClient(srv.URL, srv.Client())

	record, err := client.SubmitExecution(context.Background(), SubmitRequest{
		Address: "0xabc",
		Plan:    json.RawMessage(`{"acting_address":"0xabc","operations":[]}`),
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if !submitted || record.ID != "exec-1" {
		t.Fatalf("unexpected record: %+v", record)
	}

	final, err := client.GetExecution(context.Background(), "exec-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if final.Result == nil || final.Result.Digest != "0xfeed" {
		t.Fatalf("unexpected result: %+v", final.Result)
	}
}

func TestListExecutionsBuildsQuery(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/executions" {
			t.Fatalf("unexpected path: %s", r.URL.Path)
		}
		query := r.URL.Query()
		if query.Get("status") != "failed" || query.Get("limit") != "5" {
			t.Fatalf("unexpected query: %s", r.URL.RawQuery)
		}
		_ = json.NewEncoder(w).Encode([]ExecutionRecord{{ID: "exec-2", Status: "failed"}})
	}))
	defer srv.Close()

	client := NewClient(srv.URL, srv.Client())
	records, err := client.ListExecutions(context.Background(), ListExecutionsOptions{Status: "failed", Limit: 5})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(records) != 1 || records[0].ID != "exec-2" {
		t.Fatalf("unexpected records: %+v", records)
	}
}

func TestAPIErrorDecoding(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		_ = json.NewEncoder(w).Encode(APIError{
			Code:    "PARAMETER_UNRESOLVED",
			Message: "missing parameters",
			Missing: []string{"recipient"},
		})
	}))
	defer srv.Close()

	client := NewClient(srv.URL, srv.Client())
	_, err := client.Compile(context.Background(), CompileRequest{ActingAddress: "0xabc"})
	if err == nil {
		t.Fatal("expected error")
	}
	apiErr, ok := err.(*APIError)
	if !ok {
		t.Fatalf("expected APIError, got %T", err)
	}
	if apiErr.Code != "PARAMETER_UNRESOLVED" || apiErr.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("unexpected api error: %+v", apiErr)
	}
	if len(apiErr.Missing) != 1 || apiErr.Missing[0] != "recipient" {
		t.Fatalf("unexpected missing fields: %+v", apiErr.Missing)
	}
}
