package testdb

import (
	"context"
	"fmt"

	"github.com/DefiantLabs/ledger-sync/config"
	"github.com/ory/dockertest/v3"
	"github.com/ory/dockertest/v3/docker"
	"github.com/redis/go-redis/v9"
)

// NewRedis starts a throwaway redis container. It returns an error when docker is unavailable.
func NewRedis() (*redis.Client, func(), error) {
	pool, err := dockertest.NewPool("")
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to docker: %v", err)
	}
	if err = pool.Client.Ping(); err != nil {
		return nil, nil, fmt.Errorf("docker unavailable: %v", err)
	}

	container, err := pool.RunWithOptions(
		&dockertest.RunOptions{Repository: "redis", Tag: "7-alpine"},
		func(config *docker.HostConfig) {
			config.AutoRemove = true
			config.RestartPolicy = docker.RestartPolicy{Name: "no"}
		},
	)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create docker container: %v", err)
	}
	cleanup := func() {
		if err := pool.Purge(container); err != nil {
			config.Log.Errorf("failed to purge resource: %v", err)
		}
	}

	rdb := redis.NewClient(&redis.Options{Addr: fmt.Sprintf("localhost:%s", container.GetPort("6379/tcp"))})
	if err := pool.Retry(func() error {
		return rdb.Ping(context.Background()).Err()
	}); err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("failed to reach redis: %v", err)
	}
	return rdb, cleanup, nil
}
