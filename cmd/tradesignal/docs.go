package main

//go:generate swag init -g cmd/tradesignal/main.go -o docs

// @title           Trade Signal API
// @version         0.1.0
// @description     Signal ingestion, order lifecycle and live order events.
// @host            localhost:8080
// @BasePath        /
// @schemes         http
