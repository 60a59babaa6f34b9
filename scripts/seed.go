// Seed script for standing up a demo trust network against a running
// vouchmesh server.
// Run with: go run ./scripts/seed.go
package main

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"

	"github.com/joho/godotenv"
)

func main() {
	envFile := os.Getenv("VOUCHMESH_ENV")
	if envFile == "" {
		envFile = ".env"
	}
	_ = godotenv.Load(envFile)
	_ = godotenv.Load(envFile + ".secret")

	baseURL := os.Getenv("VOUCHMESH_URL")
	if baseURL == "" {
		baseURL = "http://localhost:8080"
	}

	// Demo identities. Real deployments derive these hashes from an HMAC
	// over a messaging identity; here a plain digest of a name is enough.
	names := []string{"alice", "bob", "carol", "dave", "erin", "frank"}
	hashes := make(map[string]string, len(names))
	for _, name := range names {
		h := sha256.Sum256([]byte("vouchmesh-demo:" + name))
		hashes[name] = hex.EncodeToString(h[:])
	}

	// Founding triangle.
	post(baseURL+"/v1/seed", map[string]any{
		"members": []string{hashes["alice"], hashes["bob"], hashes["carol"]},
	})
	fmt.Println("Seeded founding triangle: alice, bob, carol")

	// Grow the network: each newcomer is invited and then vouched for by
	// a second founder so nobody sits at a single vouch.
	invites := []struct{ inviter, invitee, backer string }{
		{"alice", "dave", "bob"},
		{"bob", "erin", "carol"},
		{"carol", "frank", "alice"},
	}
	for _, in := range invites {
		post(baseURL+"/v1/members", map[string]any{
			"actor":  hashes[in.inviter],
			"target": hashes[in.invitee],
		})
		post(baseURL+"/v1/vouches", map[string]any{
			"actor":  hashes[in.backer],
			"target": hashes[in.invitee],
		})
		fmt.Printf("Invited %s (vouched by %s and %s)\n", in.invitee, in.inviter, in.backer)
	}

	// A third vouch makes dave a validator.
	post(baseURL+"/v1/vouches", map[string]any{
		"actor":  hashes["carol"],
		"target": hashes["dave"],
	})
	fmt.Println("dave promoted to validator")

	fmt.Println("\n=== Seed Complete ===")
	fmt.Println("\nInspect the network:")
	fmt.Printf("curl %s/v1/members\n", baseURL)
	fmt.Printf("curl %s/v1/analysis/dvr\n", baseURL)
	fmt.Printf("curl %s/v1/analysis/clusters\n", baseURL)
	fmt.Printf("curl %s/v1/members/%s/standing\n", baseURL, hashes["dave"])
}

func post(url string, body map[string]any) {
	payload, err := json.Marshal(body)
	if err != nil {
		log.Fatalf("marshal request: %v", err)
	}
	resp, err := http.Post(url, "application/json", bytes.NewReader(payload))
	if err != nil {
		log.Fatalf("POST %s: %v", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(resp.Body)
		log.Fatalf("POST %s: %s: %s", url, resp.Status, msg)
	}
}
