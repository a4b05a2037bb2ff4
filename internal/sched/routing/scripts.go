package routing

import (
	_ "embed"
	"sync"

	"github.com/redis/go-redis/v9"
)

//go:embed lua/reserve.lua
var reserveLuaSource string

//go:embed lua/release.lua
var releaseLuaSource string

//go:embed lua/fsm_init.lua
var fsmInitLuaSource string

//go:embed lua/fsm_reset_created.lua
var fsmResetCreatedLuaSource string

//go:embed lua/fsm_to_dispatched.lua
var fsmToDispatchedLuaSource string

//go:embed lua/fsm_to_accepted.lua
var fsmToAcceptedLuaSource string

//go:embed lua/fsm_to_running.lua
var fsmToRunningLuaSource string

//go:embed lua/fsm_to_finished.lua
var fsmToFinishedLuaSource string

//go:embed lua/fsm_to_released.lua
var fsmToReleasedLuaSource string

// scripts holds every compiled Lua script the routing runtime uses. Scripts
// are created once per process via [getScripts] and loaded into Redis on
// first EVALSHA miss (go-redis falls back to EVAL transparently).
type scripts struct {
	reserve         *redis.Script
	release         *redis.Script
	fsmInit         *redis.Script
	fsmResetCreated *redis.Script
	fsmToDispatched *redis.Script
	fsmToAccepted   *redis.Script
	fsmToRunning    *redis.Script
	fsmToFinished   *redis.Script
	fsmToReleased   *redis.Script
}

var (
	globalScripts     *scripts
	globalScriptsOnce sync.Once
)

// getScripts returns the process-wide singleton script set, compiling it on
// first use.
func getScripts() *scripts {
	globalScriptsOnce.Do(func() {
		globalScripts = &scripts{
			reserve:         redis.NewScript(reserveLuaSource),
			release:         redis.NewScript(releaseLuaSource),
			fsmInit:         redis.NewScript(fsmInitLuaSource),
			fsmResetCreated: redis.NewScript(fsmResetCreatedLuaSource),
			fsmToDispatched: redis.NewScript(fsmToDispatchedLuaSource),
			fsmToAccepted:   redis.NewScript(fsmToAcceptedLuaSource),
			fsmToRunning:    redis.NewScript(fsmToRunningLuaSource),
			fsmToFinished:   redis.NewScript(fsmToFinishedLuaSource),
			fsmToReleased:   redis.NewScript(fsmToReleasedLuaSource),
		}
	})
	return globalScripts
}
