package store

import "time"

// Key layout for the shared store. Everything is namespaced by game
// code so multiple games share one redis.
const (
	KeyRound         = "round:%s"          // game -> authoritative round JSON
	KeyRoundState    = "round:%s:state"    // game -> public state projection
	KeyRoundCoeff    = "round:%s:coeff"    // game -> current coefficient
	KeyRoundPrevious = "round:%s:previous" // game -> previous round's bets
	KeyRoundHistory  = "round:%s:history"  // game -> fairness disclosure list
	KeyLeaderLock    = "leader:%s"         // game -> pod id holding the lock

	KeyPendingBet   = "pending:%s:%s:%d" // game, user, slot -> pending bet JSON
	KeyPendingQueue = "pending:%s:queue" // game -> ordered pending bet keys

	KeyBetTx         = "bet:tx:%s"           // playerGameId -> external tx id
	KeyIdempotency   = "idem:%s"             // fingerprint -> cached placement response
	KeyIdemByBet     = "idem:bet:%s"         // playerGameId -> fingerprint (for invalidation)
	KeySettled       = "settled:%s"          // playerGameId -> roundId, settle-once guard
	KeyPlacementLock = "lock:place:%s:%s:%d" // game, user, slot

	KeyUserSeed     = "seed:user:%s"    // user -> chosen client seed
	KeyMinesSession = "mines:%s:%s"     // game, user -> session JSON
	KeyRateLimit    = "ratelimit:%s:%s" // user, action
)

const (
	TTLBetTx         = 24 * time.Hour
	TTLSettled       = 24 * time.Hour
	TTLPlacementLock = 10 * time.Second
)
