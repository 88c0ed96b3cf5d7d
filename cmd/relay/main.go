package main

import (
	"flag"
	"log"
	"net/http"
	"os"

	"example.com/mentor_bridge/relay"
)

func main() {
	addr := flag.String("addr", ":8080", "Listen address")
	token := flag.String("token", os.Getenv("RELAY_TOKEN"), "Shared bearer token (empty disables auth)")
	flag.Parse()

	srv := relay.New(relay.Config{Token: *token})

	log.Printf("Signaling relay starting on %s", *addr)
	log.Printf("Call endpoint: ws://localhost%s/ws/call/{id}", *addr)
	log.Printf("Chat endpoint: ws://localhost%s/ws/chat/{id}", *addr)

	if err := http.ListenAndServe(*addr, srv.Handler()); err != nil {
		log.Fatal(err)
	}
}
