package main

import (
	"github.com/spf13/viper"
	"github.com/tunebench/tunebench/pkg/pool"
	"github.com/tunebench/tunebench/pkg/utils"
)

func LoadConfig() (*pool.Config, error) {
	config := pool.DefaultConfig()

	err := utils.UnmarshalConfig(*viper.GetViper(), config)
	if err != nil {
		return nil, err
	}

	return config, nil
}
