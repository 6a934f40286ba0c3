package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"time"

	"IntentChain/sdk/go/intentchain"
)

// 演示 SDK 的典型用法:编译意图、提交计划、轮询结果。
// 这里用 httptest 模拟服务端,实际使用时替换为守护进程地址即可。
func main() {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/compile", func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(intentchain.CompileResult{
			Status:      "ready",
			SyntheticID: "combined-demo",
			Effects:     []string{"转账 5 到 0xdef"},
			Description: "合成操作: 代币转账",
			Plan:        json.RawMessage(`{"acting_address":"0xabc","operations":[]}`),
		})
	})
	mux.HandleFunc("/api/v1/executions", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		w.WriteHeader(http.StatusAccepted)
		_ = json.NewEncoder(w).Encode(intentchain.ExecutionRecord{ID: "exec-demo", Status: "pending"})
	})
	mux.HandleFunc("/api/v1/executions/exec-demo", func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(intentchain.ExecutionRecord{
			ID:     "exec-demo",
			Status: "succeeded",
			Result: &intentchain.ExecutionOutcome{
				Digest:      "0xfeedbeef",
				BlockNumber: "42",
				Chain:       "local",
			},
		})
	})

	srv := httptest.NewServer(mux)
	defer srv.Close()

	client := intentchain.NewClient(srv.URL, srv.Client())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	compiled, err := client.Compile(ctx, intentchain.CompileRequest{
		NaturalLanguageInput: "给 0xdef 转 5 个代币",
		ActingAddress:        "0xabc",
	})
	if err != nil {
		panic(err)
	}
	fmt.Printf("compiled %s: %v\n", compiled.SyntheticID, compiled.Effects)

	record, err := client.SubmitExecution(ctx, intentchain.SubmitRequest{
		Intent:      "给 0xdef 转 5 个代币",
		SyntheticID: compiled.SyntheticID,
		Address:     "0xabc",
		Plan:        compiled.Plan,
		Effects:     compiled.Effects,
	})
	if err != nil {
		panic(err)
	}

	final, err := client.WaitForExecution(ctx, record.ID, 100*time.Millisecond)
	if err != nil {
		panic(err)
	}
	fmt.Printf("execution %s finished with digest %s at block %s\n",
		final.ID, final.Result.Digest, final.Result.BlockNumber)
}
