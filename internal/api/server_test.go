package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/utxoledger/indexd/internal/chain"
	"github.com/utxoledger/indexd/internal/storage"
	"github.com/utxoledger/indexd/pkg/ledger"
)

// newTestServer starts an API server over a fresh in-memory chain and
// returns its base URL.
func newTestServer(t *testing.T) string {
	t.Helper()
	ch, err := chain.New(storage.NewMemory(), chain.Options{})
	if err != nil {
		t.Fatalf("chain.New() error: %v", err)
	}
	s := New("127.0.0.1:0", ch)
	if err := s.Start(); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	t.Cleanup(func() { s.Stop() })
	return "http://" + s.Addr()
}

func block(height uint64, txs ...ledger.Transaction) *ledger.Block {
	blk := &ledger.Block{Height: height, Transactions: txs}
	blk.ID = blk.ComputeID()
	return blk
}

// doJSON performs a request and decodes the JSON response body.
func doJSON(t *testing.T, method, url string, body any, out any) int {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req, err := http.NewRequest(method, url, &buf)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	defer resp.Body.Close()
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode response: %v", err)
		}
	}
	return resp.StatusCode
}

func submitBlock(t *testing.T, base string, blk *ledger.Block) {
	t.Helper()
	var resp struct {
		Status string `json:"status"`
		Height uint64 `json:"height"`
	}
	code := doJSON(t, http.MethodPost, base+"/blocks", blk, &resp)
	if code != http.StatusOK {
		t.Fatalf("POST /blocks height %d: status %d", blk.Height, code)
	}
	if resp.Status != "Block accepted" || resp.Height != blk.Height {
		t.Fatalf("POST /blocks response = %+v", resp)
	}
}

func getBalance(t *testing.T, base, address string) int64 {
	t.Helper()
	var resp struct {
		Address string `json:"address"`
		Balance int64  `json:"balance"`
	}
	code := doJSON(t, http.MethodGet, base+"/balance/"+address, nil, &resp)
	if code != http.StatusOK {
		t.Fatalf("GET /balance/%s: status %d", address, code)
	}
	if resp.Address != address {
		t.Fatalf("GET /balance/%s returned address %q", address, resp.Address)
	}
	return resp.Balance
}

// submitFixture posts the canonical three-block chain.
func submitFixture(t *testing.T, base string) {
	t.Helper()
	submitBlock(t, base, block(1, ledger.Transaction{
		ID:      "tx1",
		Outputs: []ledger.Output{{Address: "addr1", Value: 10}},
	}))
	submitBlock(t, base, block(2, ledger.Transaction{
		ID:      "tx2",
		Inputs:  []ledger.Input{{TxID: "tx1", Index: 0}},
		Outputs: []ledger.Output{{Address: "addr2", Value: 4}, {Address: "addr3", Value: 6}},
	}))
	submitBlock(t, base, block(3, ledger.Transaction{
		ID:      "tx3",
		Inputs:  []ledger.Input{{TxID: "tx2", Index: 1}},
		Outputs: []ledger.Output{{Address: "addr4", Value: 2}, {Address: "addr5", Value: 2}, {Address: "addr6", Value: 2}},
	}))
}

func TestWelcome(t *testing.T) {
	base := newTestServer(t)

	var resp map[string]string
	code := doJSON(t, http.MethodGet, base+"/", nil, &resp)
	if code != http.StatusOK {
		t.Fatalf("GET /: status %d", code)
	}
	if resp["welcome"] != "in blockchain" {
		t.Errorf(`GET / = %v, want {"welcome": "in blockchain"}`, resp)
	}
}

func TestSubmitAndQuery(t *testing.T) {
	base := newTestServer(t)
	submitFixture(t, base)

	want := map[string]int64{
		"addr1": 0, "addr2": 4, "addr3": 0,
		"addr4": 2, "addr5": 2, "addr6": 2,
		"nobody": 0,
	}
	for addr, bal := range want {
		if got := getBalance(t, base, addr); got != bal {
			t.Errorf("balance %s = %d, want %d", addr, got, bal)
		}
	}

	var list struct {
		Blocks []struct {
			ID     string `json:"id"`
			Height uint64 `json:"height"`
		} `json:"blocks"`
		Count         int    `json:"count"`
		CurrentHeight uint64 `json:"currentHeight"`
	}
	code := doJSON(t, http.MethodGet, base+"/blocks", nil, &list)
	if code != http.StatusOK {
		t.Fatalf("GET /blocks: status %d", code)
	}
	if list.Count != 3 || list.CurrentHeight != 3 || len(list.Blocks) != 3 {
		t.Fatalf("GET /blocks = %+v", list)
	}
	for i, b := range list.Blocks {
		if b.Height != uint64(i+1) {
			t.Errorf("blocks[%d].height = %d, want %d", i, b.Height, i+1)
		}
	}
}

func TestListBlocksEmpty(t *testing.T) {
	base := newTestServer(t)

	var list struct {
		Blocks        []json.RawMessage `json:"blocks"`
		Count         int               `json:"count"`
		CurrentHeight uint64            `json:"currentHeight"`
	}
	code := doJSON(t, http.MethodGet, base+"/blocks", nil, &list)
	if code != http.StatusOK {
		t.Fatalf("GET /blocks: status %d", code)
	}
	if list.Blocks == nil {
		t.Error("blocks should be an empty array, not null")
	}
	if list.Count != 0 || list.CurrentHeight != 0 {
		t.Errorf("GET /blocks = %+v, want empty", list)
	}
}

func TestSubmitRejections(t *testing.T) {
	base := newTestServer(t)
	submitBlock(t, base, block(1, ledger.Transaction{
		ID:      "tx1",
		Outputs: []ledger.Output{{Address: "addr1", Value: 10}},
	}))

	tests := []struct {
		name string
		blk  *ledger.Block
	}{
		{"value mismatch", block(2, ledger.Transaction{
			ID:      "tx2",
			Inputs:  []ledger.Input{{TxID: "tx1", Index: 0}},
			Outputs: []ledger.Output{{Address: "bob", Value: 50}},
		})},
		{"unknown input", block(2, ledger.Transaction{
			ID:      "tx2",
			Inputs:  []ledger.Input{{TxID: "ghost", Index: 0}},
			Outputs: []ledger.Output{{Address: "bob", Value: 1}},
		})},
		{"wrong height", block(5, ledger.Transaction{
			ID:      "tx5",
			Outputs: []ledger.Output{{Address: "bob", Value: 1}},
		})},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var resp struct {
				Error string `json:"error"`
			}
			code := doJSON(t, http.MethodPost, base+"/blocks", tt.blk, &resp)
			if code != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400", code)
			}
			if resp.Error == "" {
				t.Error("error field missing")
			}
		})
	}

	// State unchanged after the rejections.
	if got := getBalance(t, base, "addr1"); got != 10 {
		t.Errorf("balance addr1 = %d after rejections, want 10", got)
	}
}

func TestSubmitBadBlockID(t *testing.T) {
	base := newTestServer(t)

	blk := &ledger.Block{
		ID:     "invalid_id_aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa",
		Height: 1,
		Transactions: []ledger.Transaction{{
			ID:      "tx1",
			Outputs: []ledger.Output{{Address: "alice", Value: 5}},
		}},
	}
	var resp struct {
		Error     string `json:"error"`
		Expected  string `json:"expected"`
		Received  string `json:"received"`
		HashInput string `json:"hashInput"`
	}
	code := doJSON(t, http.MethodPost, base+"/blocks", blk, &resp)
	if code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", code)
	}
	if resp.Expected != blk.ComputeID() {
		t.Errorf("expected = %q, want computed digest %q", resp.Expected, blk.ComputeID())
	}
	if resp.Received != blk.ID {
		t.Errorf("received = %q, want %q", resp.Received, blk.ID)
	}
	if resp.HashInput != "1tx1" {
		t.Errorf("hashInput = %q, want %q", resp.HashInput, "1tx1")
	}
}

func TestRollbackEndpoint(t *testing.T) {
	base := newTestServer(t)
	submitFixture(t, base)

	var resp struct {
		Status string `json:"status"`
		Height uint64 `json:"height"`
	}
	code := doJSON(t, http.MethodPost, base+"/rollback?height=2", nil, &resp)
	if code != http.StatusOK {
		t.Fatalf("POST /rollback: status %d", code)
	}
	if resp.Status != "Rollback successful" || resp.Height != 2 {
		t.Fatalf("POST /rollback response = %+v", resp)
	}

	if got := getBalance(t, base, "addr3"); got != 6 {
		t.Errorf("balance addr3 = %d after rollback, want 6", got)
	}
	if got := getBalance(t, base, "addr4"); got != 0 {
		t.Errorf("balance addr4 = %d after rollback, want 0", got)
	}
}

func TestRollbackBadParams(t *testing.T) {
	base := newTestServer(t)
	submitFixture(t, base)

	for _, query := range []string{"", "height=abc", "height=-1", "height=0", "height=1.5"} {
		var resp struct {
			Error string `json:"error"`
		}
		code := doJSON(t, http.MethodPost, base+"/rollback?"+query, nil, &resp)
		if code != http.StatusBadRequest {
			t.Errorf("POST /rollback?%s: status = %d, want 400", query, code)
		}
		if resp.Error == "" {
			t.Errorf("POST /rollback?%s: error field missing", query)
		}
	}

	// Above the head.
	var resp struct {
		Error string `json:"error"`
	}
	code := doJSON(t, http.MethodPost, base+"/rollback?height=9", nil, &resp)
	if code != http.StatusBadRequest {
		t.Errorf("POST /rollback?height=9: status = %d, want 400", code)
	}
}

func TestResetEndpoint(t *testing.T) {
	base := newTestServer(t)
	submitFixture(t, base)

	var resp struct {
		Status        string `json:"status"`
		CurrentHeight uint64 `json:"currentHeight"`
		BlocksCount   int    `json:"blocksCount"`
		UTXOsCount    int    `json:"utxosCount"`
		BalancesCount int    `json:"balancesCount"`
	}
	code := doJSON(t, http.MethodPost, base+"/reset", nil, &resp)
	if code != http.StatusOK {
		t.Fatalf("POST /reset: status %d", code)
	}
	if resp.Status != "Reset successful" || resp.CurrentHeight != 0 ||
		resp.BlocksCount != 0 || resp.UTXOsCount != 0 || resp.BalancesCount != 0 {
		t.Fatalf("POST /reset response = %+v", resp)
	}

	// The chain accepts height 1 again.
	submitBlock(t, base, block(1, ledger.Transaction{
		ID:      "tx1",
		Outputs: []ledger.Output{{Address: "addr1", Value: 10}},
	}))
}

func TestGetBlockByHeight(t *testing.T) {
	base := newTestServer(t)
	submitFixture(t, base)

	var blk ledger.Block
	code := doJSON(t, http.MethodGet, base+"/blocks/2", nil, &blk)
	if code != http.StatusOK {
		t.Fatalf("GET /blocks/2: status %d", code)
	}
	if blk.Height != 2 || len(blk.Transactions) != 1 || blk.Transactions[0].ID != "tx2" {
		t.Errorf("GET /blocks/2 = %+v", blk)
	}

	if code := doJSON(t, http.MethodGet, base+"/blocks/9", nil, nil); code != http.StatusNotFound {
		t.Errorf("GET /blocks/9: status = %d, want 404", code)
	}
	if code := doJSON(t, http.MethodGet, base+"/blocks/abc", nil, nil); code != http.StatusBadRequest {
		t.Errorf("GET /blocks/abc: status = %d, want 400", code)
	}
}

func TestGetTransactionEndpoint(t *testing.T) {
	base := newTestServer(t)
	submitFixture(t, base)

	var resp struct {
		Transaction ledger.Transaction `json:"transaction"`
		BlockID     string             `json:"blockId"`
		Height      uint64             `json:"height"`
	}
	code := doJSON(t, http.MethodGet, base+"/tx/tx2", nil, &resp)
	if code != http.StatusOK {
		t.Fatalf("GET /tx/tx2: status %d", code)
	}
	if resp.Transaction.ID != "tx2" || resp.Height != 2 {
		t.Errorf("GET /tx/tx2 = %+v", resp)
	}

	if code := doJSON(t, http.MethodGet, base+"/tx/missing", nil, nil); code != http.StatusNotFound {
		t.Errorf("GET /tx/missing: status = %d, want 404", code)
	}
}

func TestUTXOsEndpoint(t *testing.T) {
	base := newTestServer(t)
	submitFixture(t, base)

	var resp struct {
		Address string `json:"address"`
		UTXOs   []struct {
			Outpoint string `json:"outpoint"`
			Value    int64  `json:"value"`
		} `json:"utxos"`
		Count int `json:"count"`
	}
	code := doJSON(t, http.MethodGet, base+"/utxos/addr2", nil, &resp)
	if code != http.StatusOK {
		t.Fatalf("GET /utxos/addr2: status %d", code)
	}
	if resp.Count != 1 || len(resp.UTXOs) != 1 || resp.UTXOs[0].Outpoint != "tx2:0" || resp.UTXOs[0].Value != 4 {
		t.Errorf("GET /utxos/addr2 = %+v", resp)
	}

	code = doJSON(t, http.MethodGet, base+"/utxos/addr1", nil, &resp)
	if code != http.StatusOK {
		t.Fatalf("GET /utxos/addr1: status %d", code)
	}
	if resp.Count != 0 || resp.UTXOs == nil {
		t.Errorf("GET /utxos/addr1 = %+v, want empty array", resp)
	}
}

func TestWebSocketFeed(t *testing.T) {
	base := newTestServer(t)

	wsURL := "ws" + base[len("http"):] + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", wsURL, err)
	}
	defer conn.Close()

	blk := block(1, ledger.Transaction{
		ID:      "tx1",
		Outputs: []ledger.Output{{Address: "alice", Value: 10}},
	})
	submitBlock(t, base, blk)

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var got ledger.Block
	if err := conn.ReadJSON(&got); err != nil {
		t.Fatalf("ReadJSON() error: %v", err)
	}
	if got.ID != blk.ID || got.Height != 1 {
		t.Errorf("feed delivered %+v, want block %s", got, blk.ID)
	}
}

func TestMalformedBlockBody(t *testing.T) {
	base := newTestServer(t)

	req, _ := http.NewRequest(http.MethodPost, base+"/blocks", bytes.NewBufferString("{not json"))
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("POST /blocks: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestMethodRouting(t *testing.T) {
	base := newTestServer(t)

	for _, tc := range []struct{ method, path string }{
		{http.MethodGet, "/rollback?height=1"},
		{http.MethodGet, "/reset"},
		{http.MethodDelete, "/blocks"},
	} {
		code := doJSON(t, tc.method, base+tc.path, nil, nil)
		if code != http.StatusMethodNotAllowed {
			t.Errorf("%s %s: status = %d, want 405", tc.method, tc.path, code)
		}
	}
}

func TestMetricsExposed(t *testing.T) {
	base := newTestServer(t)

	resp, err := http.Get(base + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("GET /metrics: status = %d, want 200", resp.StatusCode)
	}
}

// Example of the full request cycle: submit, roll back, resubmit.
func TestResubmitAfterRollbackHTTP(t *testing.T) {
	base := newTestServer(t)

	b1 := block(1, ledger.Transaction{
		ID:      "tx1",
		Outputs: []ledger.Output{{Address: "a", Value: 10}},
	})
	b2 := block(2, ledger.Transaction{
		ID:      "tx2",
		Inputs:  []ledger.Input{{TxID: "tx1", Index: 0}},
		Outputs: []ledger.Output{{Address: "b", Value: 10}},
	})
	submitBlock(t, base, b1)
	submitBlock(t, base, b2)

	code := doJSON(t, http.MethodPost, fmt.Sprintf("%s/rollback?height=%d", base, 1), nil, nil)
	if code != http.StatusOK {
		t.Fatalf("rollback: status %d", code)
	}
	submitBlock(t, base, b2)

	if got := getBalance(t, base, "b"); got != 10 {
		t.Errorf("balance b = %d, want 10", got)
	}
}
