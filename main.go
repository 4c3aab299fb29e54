package main

import (
	"flag"
	"io"
	"log"
	"net/http"
	"os"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
)

var db *sqlx.DB
var engine *Engine
var hub *Hub
var devMode bool

// logError logs an error with context and dumps the database in dev mode
func logError(context string, err error) {
	log.Printf("ERROR [%s]: %v", context, err)
	if devMode {
		LogDBState(context)
	}
}

func main() {
	fv := registerFlags()
	flag.Parse()
	cfg := loadConfig(*fv.configPath)
	fv.applyTo(&cfg)
	devMode = cfg.Dev

	// Set up logging to both stdout and file
	logFile, err := os.OpenFile("werwolf.log", os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		log.Fatal("Failed to open log file:", err)
	}
	defer logFile.Close()
	log.SetOutput(io.MultiWriter(os.Stdout, logFile))

	appLogger, err = NewAppLogger(cfg.toLogSettings())
	if err != nil {
		log.Fatal("Failed to initialize logger:", err)
	}
	defer CloseAppLogger()

	if appLogger.IsEnabled() {
		log.Println("Extended logging enabled")
	}

	db, err = sqlx.Connect("sqlite3", cfg.DB)
	if err != nil {
		log.Fatal("Failed to connect to database:", err)
	}
	defer db.Close()

	if err := initDB(db); err != nil {
		log.Fatal("Failed to initialize database:", err)
	}
	appLogger.SetDB(db)
	LogDBState("after initDB")

	engine = NewEngine(db)
	if err := engine.SetNightOrder(parseNightOrder(cfg.NightOrder)); err != nil {
		log.Fatal("Invalid night order:", err)
	}
	log.Printf("Night order: %s", cfg.NightOrder)
	engine.SetStoryteller(newStoryteller(cfg))

	hub = newHub(engine)
	engine.SetNotifier(hub)
	go hub.run()
	defer hub.stop()

	// Wrap API handlers with compression, caching control, and optional
	// request logging. The websocket route stays unwrapped: the upgrade
	// needs the raw connection.
	wrapHandler := func(pattern string, handler http.HandlerFunc) {
		var h http.Handler = handler
		h = compress(h)
		h = disableCaching(h)
		if appLogger != nil && appLogger.logRequests {
			http.Handle(pattern, &LoggingHandler{Handler: h, Logger: appLogger})
		} else {
			http.Handle(pattern, h)
		}
	}

	wrapHandler("/api/game", handleGetGame)
	wrapHandler("/api/game/create", handleCreateGame)
	wrapHandler("/api/game/join", handleJoinGame)
	wrapHandler("/api/game/qr", handleGameQR)
	http.HandleFunc("/ws", handleWebSocket)

	log.Printf("Server starting on %s", cfg.Addr)
	log.Fatal(http.ListenAndServe(cfg.Addr, nil))
}
