package main

import (
	"database/sql"
	"fmt"
	"log"
	"os"

	_ "github.com/lib/pq"
)

func main() {
	fmt.Println("Creating support backend database tables...")

	dsn := os.Getenv("DB_URI")
	if dsn == "" {
		dsn = "host=localhost port=5432 user=support password=support dbname=support_desk sslmode=disable"
	}
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		log.Fatalf("Failed to ping database: %v", err)
	}
	fmt.Println("✅ Connected to database")

	statements := []struct {
		name string
		sql  string
	}{
		{"clients", `
	CREATE TABLE IF NOT EXISTS clients (
		id SERIAL PRIMARY KEY,
		client_id VARCHAR(100) NOT NULL UNIQUE,
		name VARCHAR(255),
		settings JSONB,
		created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
	)`},
		{"users", `
	CREATE TABLE IF NOT EXISTS users (
		id SERIAL PRIMARY KEY,
		client_id VARCHAR(100),
		name VARCHAR(255) NOT NULL,
		email VARCHAR(255) NOT NULL UNIQUE,
		role VARCHAR(50) DEFAULT 'agent',
		status VARCHAR(20) DEFAULT 'offline',
		max_concurrent INTEGER DEFAULT 3,
		current_load INTEGER DEFAULT 0,
		department VARCHAR(100),
		skills JSONB,
		source VARCHAR(20) DEFAULT 'local',
		external_id VARCHAR(100),
		created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
	)`},
		{"chat_rooms", `
	CREATE TABLE IF NOT EXISTS chat_rooms (
		id SERIAL PRIMARY KEY,
		client_id VARCHAR(100) NOT NULL,
		session_token VARCHAR(64) NOT NULL UNIQUE,
		visitor_id VARCHAR(100),
		status VARCHAR(20) DEFAULT 'active',
		assigned_agent_id INTEGER REFERENCES users(id),
		agent_source VARCHAR(20),
		takeover BOOLEAN DEFAULT FALSE,
		customer_email VARCHAR(255),
		customer_name VARCHAR(255),
		created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
		last_activity_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
		closed_at TIMESTAMP WITH TIME ZONE
	)`},
		{"messages", `
	CREATE TABLE IF NOT EXISTS messages (
		id SERIAL PRIMARY KEY,
		room_id INTEGER NOT NULL REFERENCES chat_rooms(id),
		client_id VARCHAR(100) NOT NULL,
		sender_type VARCHAR(20) NOT NULL,
		sender_id INTEGER,
		content TEXT NOT NULL,
		metadata JSONB,
		created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
	)`},
		{"session_contexts", `
	CREATE TABLE IF NOT EXISTS session_contexts (
		id SERIAL PRIMARY KEY,
		room_id INTEGER NOT NULL REFERENCES chat_rooms(id),
		client_id VARCHAR(100) NOT NULL,
		collected_entities JSONB DEFAULT '{}',
		current_workflow VARCHAR(100),
		workflow_state JSONB,
		updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
		UNIQUE (room_id, client_id)
	)`},
	}

	for _, stmt := range statements {
		fmt.Printf("Creating %s table...\n", stmt.name)
		if _, err := db.Exec(stmt.sql); err != nil {
			log.Printf("Warning: Failed to create %s table: %v", stmt.name, err)
		} else {
			fmt.Printf("✅ %s table created/verified\n", stmt.name)
		}
	}

	indexes := []string{
		`CREATE INDEX IF NOT EXISTS idx_chat_rooms_client_id ON chat_rooms(client_id)`,
		`CREATE INDEX IF NOT EXISTS idx_chat_rooms_visitor_id ON chat_rooms(visitor_id)`,
		`CREATE INDEX IF NOT EXISTS idx_chat_rooms_status ON chat_rooms(status)`,
		`CREATE INDEX IF NOT EXISTS idx_chat_rooms_last_activity ON chat_rooms(last_activity_at)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_room_id ON messages(room_id)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_client_id ON messages(client_id)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_created_at ON messages(created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_users_client_id ON users(client_id)`,
	}
	for _, idx := range indexes {
		if _, err := db.Exec(idx); err != nil {
			log.Printf("Warning: Failed to create index: %v", err)
		}
	}
	fmt.Println("✅ Indexes created/verified")

	fmt.Println("🎉 Database is ready!")
}
