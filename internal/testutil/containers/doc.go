//go:build integration

// Package containers starts the external services that integration tests run
// against: MySQL for the entity store, Redis for suppression state and the
// task queue, Mosquitto for MQTT intake, and ntfy as a real push target.
//
// Containers are shared per package through TestMain:
//
//	var redisContainer *containers.RedisContainer
//
//	func TestMain(m *testing.M) {
//	    var err error
//	    redisContainer, err = containers.NewRedisContainer(context.Background(), nil)
//	    if err != nil {
//	        panic(err)
//	    }
//	    code := m.Run()
//	    _ = redisContainer.Terminate(context.Background())
//	    os.Exit(code)
//	}
//
// Every file in this package and every test using it carries the
// "integration" build tag:
//
//	go test -tags=integration ./...
package containers
