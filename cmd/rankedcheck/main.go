// Command rankedcheck logs a probe account in, queues it once and cancels the
// search again. Run it against a fresh deploy.
package main

import (
	"context"
	"log"
	"os"
	"time"

	"github.com/park285/cheese-ranked/internal/apiclient"
)

func main() {
	baseURL := os.Getenv("RANKED_BASE_URL")
	username := os.Getenv("PROBE_USERNAME")
	password := os.Getenv("PROBE_PASSWORD")

	if baseURL == "" {
		log.Fatal("RANKED_BASE_URL is required")
	}
	if username == "" || password == "" {
		log.Fatal("PROBE_USERNAME and PROBE_PASSWORD are required")
	}

	client := apiclient.NewClient(baseURL, apiclient.WithTimeout(8*time.Second))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	if _, err := client.Register(ctx, username, password); err != nil {
		if apiclient.StatusOf(err) != 409 {
			log.Fatalf("/player/register error: %v", err)
		}
		log.Println("/player/register: account exists")
	}
	p, err := client.Login(ctx, username, password)
	if err != nil {
		log.Fatalf("/player/login error: %v", err)
	}
	rank := 0
	if p.Rank != nil {
		rank = *p.Rank
	}
	log.Printf("/player/login ok: id=%d rank=%d", p.ID, rank)

	res, err := client.FindGame(ctx)
	if err != nil {
		log.Fatalf("/game/find error: %v", err)
	}
	if res.GameFound && res.Game != nil {
		log.Printf("/game/find matched immediately: game=%d", res.Game.ID)
		return
	}
	log.Println("/game/find ok: searching")

	res, err = client.CancelSearch(ctx)
	if err != nil {
		log.Fatalf("/game/cancel error: %v", err)
	}
	if res.GameFound && res.Game != nil {
		log.Printf("/game/cancel: already matched into game %d", res.Game.ID)
		return
	}
	log.Println("/game/cancel ok")
}
