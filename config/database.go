package config

import (
	"database/sql"
	"fmt"
	"log"
	"time"

	_ "github.com/go-sql-driver/mysql"
)

// DBConnections содержит подключения к базам данных
type DBConnections struct {
	BronzeDB    *sql.DB
	WarehouseDB *sql.DB
}

// ConnectDatabases устанавливает подключения к bronze-слою и хранилищу
func ConnectDatabases(config ETLConfig) (*DBConnections, error) {
	var connections DBConnections
	var err error

	// Подключение к bronze базе данных (исходная)
	bronzeDSN := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true",
		config.BronzeConfig.User,
		config.BronzeConfig.Password,
		config.BronzeConfig.Host,
		config.BronzeConfig.Port,
		config.BronzeConfig.DBName,
	)

	connections.BronzeDB, err = sql.Open(config.BronzeConfig.Driver, bronzeDSN)
	if err != nil {
		return nil, fmt.Errorf("ошибка подключения к bronze базе данных: %w", err)
	}

	// Настройка параметров подключения к bronze
	connections.BronzeDB.SetMaxOpenConns(10)
	connections.BronzeDB.SetMaxIdleConns(5)
	connections.BronzeDB.SetConnMaxLifetime(5 * time.Minute)

	// Проверка подключения к bronze
	if err := connections.BronzeDB.Ping(); err != nil {
		return nil, fmt.Errorf("не удалось установить соединение с bronze базой данных: %w", err)
	}

	// Подключение к базе данных хранилища (целевая)
	warehouseDSN := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true",
		config.WarehouseConfig.User,
		config.WarehouseConfig.Password,
		config.WarehouseConfig.Host,
		config.WarehouseConfig.Port,
		config.WarehouseConfig.DBName,
	)

	connections.WarehouseDB, err = sql.Open(config.WarehouseConfig.Driver, warehouseDSN)
	if err != nil {
		// Закрываем первое подключение при ошибке
		connections.BronzeDB.Close()
		return nil, fmt.Errorf("ошибка подключения к базе данных хранилища: %w", err)
	}

	// Настройка параметров подключения к хранилищу
	connections.WarehouseDB.SetMaxOpenConns(10)
	connections.WarehouseDB.SetMaxIdleConns(5)
	connections.WarehouseDB.SetConnMaxLifetime(5 * time.Minute)

	// Проверка подключения к хранилищу
	if err := connections.WarehouseDB.Ping(); err != nil {
		// Закрываем оба подключения при ошибке
		connections.BronzeDB.Close()
		connections.WarehouseDB.Close()
		return nil, fmt.Errorf("не удалось установить соединение с базой данных хранилища: %w", err)
	}

	log.Println("Успешное подключение к bronze базе и хранилищу")
	return &connections, nil
}

// CloseDatabases закрывает подключения к базам данных
func CloseDatabases(connections *DBConnections) {
	if connections.BronzeDB != nil {
		if err := connections.BronzeDB.Close(); err != nil {
			log.Printf("Ошибка при закрытии соединения с bronze базой данных: %v", err)
		}
	}

	if connections.WarehouseDB != nil {
		if err := connections.WarehouseDB.Close(); err != nil {
			log.Printf("Ошибка при закрытии соединения с базой данных хранилища: %v", err)
		}
	}

	log.Println("Соединения с базами данных закрыты")
}
