//go:build ignore

package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Seeds a running dev server with audit events so the dashboard has
// something to show. Run with: go run scripts/seed_audit_events.go
func main() {
	count := flag.Int("count", 25, "events to seed")
	base := flag.String("base", "http://localhost:8080", "server base URL")
	flag.Parse()

	// 1. Mint a token the way the IdP would
	signingKey := []byte("dev-secret-do-not-use-in-prod")
	now := time.Now().UTC()
	claims := jwt.MapClaims{
		"sub":   "dev-seeder",
		"roles": []string{"fleet_admin", "auditor"},
		"iss":   "rs-idp",
		"jti":   uuid.New().String(),
		"exp":   now.Add(2 * time.Hour).Unix(),
		"iat":   now.Unix(),
		"nbf":   now.Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	token.Header["kid"] = "v1"
	tokenString, err := token.SignedString(signingKey)
	if err != nil {
		panic(err)
	}

	client := &http.Client{Timeout: 5 * time.Second}

	// 2. Exchange it for a session
	cbBody, _ := json.Marshal(map[string]string{"token": tokenString})
	resp, err := client.Post(*base+"/api/v1/auth/callback", "application/json", bytes.NewReader(cbBody))
	if err != nil {
		fmt.Printf("Callback error: %v\n", err)
		return
	}
	resp.Body.Close()
	if resp.StatusCode != 200 {
		fmt.Printf("FAILURE: callback returned %s\n", resp.Status)
		return
	}
	fmt.Println("Session created.")

	// 3. Seed events
	actions := []map[string]any{
		{"event_type": "DATA_ACCESS", "action": "READ", "resource": "vehicles", "result": "SUCCESS", "sensitivity": "INTERNAL"},
		{"event_type": "DATA_MODIFICATION", "action": "UPDATE", "resource": "vehicles", "result": "SUCCESS", "sensitivity": "INTERNAL"},
		{"event_type": "DATA_ACCESS", "action": "SEARCH", "resource": "audit_records", "result": "SUCCESS", "sensitivity": "CONFIDENTIAL"},
		{"event_type": "ADMIN_ACTION", "action": "CONFIG_CHANGE", "resource": "retention_policy", "result": "SUCCESS", "sensitivity": "RESTRICTED"},
		{"event_type": "SECURITY_EVENT", "action": "ACCESS_DENIED", "resource": "vehicles", "result": "FAILURE", "sensitivity": "INTERNAL"},
	}

	seeded := 0
	for i := 0; i < *count; i++ {
		ev := actions[i%len(actions)]
		ev["resource_id"] = fmt.Sprintf("seed-%03d", i)
		ev["details"] = map[string]any{"seed_index": i}
		body, _ := json.Marshal(ev)

		req, _ := http.NewRequest("POST", *base+"/api/v1/audit/events", bytes.NewReader(body))
		req.Header.Set("Authorization", "Bearer "+tokenString)
		req.Header.Set("Content-Type", "application/json")
		resp, err := client.Do(req)
		if err != nil {
			fmt.Printf("Request error at %d: %v\n", i, err)
			return
		}
		resp.Body.Close()
		if resp.StatusCode != 201 {
			fmt.Printf("FAILURE at %d: %s\n", i, resp.Status)
			return
		}
		seeded++
	}
	fmt.Printf("Seeded %d events.\n", seeded)

	// 4. Verify the chain took them
	req, _ := http.NewRequest("POST", *base+"/api/v1/audit/verify", nil)
	req.Header.Set("Authorization", "Bearer "+tokenString)
	resp, err = client.Do(req)
	if err != nil {
		fmt.Printf("Verify error: %v\n", err)
		return
	}
	defer resp.Body.Close()
	var report struct {
		OK             bool `json:"ok"`
		RecordsChecked int  `json:"records_checked"`
	}
	json.NewDecoder(resp.Body).Decode(&report)
	if report.OK {
		fmt.Printf("SUCCESS: chain intact, %d records verified.\n", report.RecordsChecked)
	} else {
		fmt.Println("FAILURE: chain verification reported a break.")
	}
}
