// Package protocol is the wire contract between table clients and the authority.
//
// Frames are JSON text messages, one record per websocket frame.
//
// Client -> Authority
//
//	joinRoom:         roomCode, playerId, playerName, resume
//	requestFullState: roomCode, playerId
//	resetGame:        roomCode, playerId
//	gameMessage:      roomCode, playerId, timestamp, localMessageId,
//	                  data: { type, data }
//
// Authority -> Client
//
//	roomJoined:   isHost, gameState?, players?
//	fullState:    gameState, players
//	playerJoined: playerId, playerName
//	playerLeft:   playerId
//	gameMessage:  data: { type, data, sentBy, timestamp }
//	gameReset:    gameState?
//	error:        code, message
//
// Game payload kinds carried in data.type: updateCardState, updateDeck,
// shuffleDiscardPile, playerList, stateValidation, requestStateCorrection.
//
// Liveness travels on websocket ping/pong control frames, never as
// application messages.
package protocol
