package chain

import (
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

// 合约事件名
const (
	EventFlipInitiated       = "FlipInitiated"
	EventFlipSettled         = "FlipSettled"
	EventGamePlayed          = "GamePlayed"
	EventGameSettled         = "GameSettled"
	EventGameStarted         = "GameStarted"
	EventGuessMade           = "GuessMade"
	EventGameResolved        = "GameResolved"
	EventRandomnessFulfilled = "RandomnessFulfilled"
)

// 合约写方法名
const (
	MethodRequestRandomness   = "requestRandomness"
	MethodRequestRanmiNumbers = "requestRanmiNumbers"
	MethodSettleFlip          = "settleFlip"
	MethodSettleGame          = "settleGame"
	MethodDeliverNumbers      = "deliverNumbers"
)

const CoinFlipABI = `[
	{"anonymous":false,"inputs":[
		{"indexed":true,"internalType":"uint256","name":"gameId","type":"uint256"},
		{"indexed":true,"internalType":"address","name":"player","type":"address"},
		{"indexed":false,"internalType":"uint8","name":"choice","type":"uint8"},
		{"indexed":false,"internalType":"uint256","name":"amount","type":"uint256"}
	],"name":"FlipInitiated","type":"event"},
	{"anonymous":false,"inputs":[
		{"indexed":true,"internalType":"uint256","name":"gameId","type":"uint256"},
		{"indexed":true,"internalType":"address","name":"player","type":"address"},
		{"indexed":false,"internalType":"bool","name":"won","type":"bool"},
		{"indexed":false,"internalType":"uint8","name":"outcome","type":"uint8"},
		{"indexed":false,"internalType":"uint256","name":"payout","type":"uint256"}
	],"name":"FlipSettled","type":"event"},
	{"inputs":[
		{"internalType":"uint256","name":"gameId","type":"uint256"},
		{"internalType":"uint256","name":"randomWord","type":"uint256"}
	],"name":"settleFlip","outputs":[],"stateMutability":"nonpayable","type":"function"}
]`

const RockPaperScissorsABI = `[
	{"anonymous":false,"inputs":[
		{"indexed":true,"internalType":"uint256","name":"gameId","type":"uint256"},
		{"indexed":true,"internalType":"address","name":"player","type":"address"},
		{"indexed":false,"internalType":"uint8","name":"choice","type":"uint8"},
		{"indexed":false,"internalType":"uint256","name":"amount","type":"uint256"}
	],"name":"GamePlayed","type":"event"},
	{"anonymous":false,"inputs":[
		{"indexed":true,"internalType":"uint256","name":"gameId","type":"uint256"},
		{"indexed":true,"internalType":"address","name":"player","type":"address"},
		{"indexed":false,"internalType":"uint8","name":"playerChoice","type":"uint8"},
		{"indexed":false,"internalType":"uint8","name":"houseChoice","type":"uint8"},
		{"indexed":false,"internalType":"uint8","name":"result","type":"uint8"},
		{"indexed":false,"internalType":"uint256","name":"payout","type":"uint256"}
	],"name":"GameSettled","type":"event"},
	{"inputs":[
		{"internalType":"uint256","name":"gameId","type":"uint256"},
		{"internalType":"uint256","name":"randomWord","type":"uint256"}
	],"name":"settleGame","outputs":[],"stateMutability":"nonpayable","type":"function"}
]`

const NumberGuessABI = `[
	{"anonymous":false,"inputs":[
		{"indexed":true,"internalType":"uint256","name":"id","type":"uint256"},
		{"indexed":true,"internalType":"address","name":"player","type":"address"},
		{"indexed":false,"internalType":"uint256","name":"amount","type":"uint256"}
	],"name":"GameStarted","type":"event"},
	{"anonymous":false,"inputs":[
		{"indexed":true,"internalType":"uint256","name":"id","type":"uint256"},
		{"indexed":false,"internalType":"uint8","name":"guessIndex","type":"uint8"}
	],"name":"GuessMade","type":"event"},
	{"anonymous":false,"inputs":[
		{"indexed":true,"internalType":"uint256","name":"id","type":"uint256"},
		{"indexed":true,"internalType":"address","name":"player","type":"address"},
		{"indexed":false,"internalType":"bool","name":"won","type":"bool"},
		{"indexed":false,"internalType":"uint8","name":"winningNumber","type":"uint8"},
		{"indexed":false,"internalType":"uint256","name":"payout","type":"uint256"}
	],"name":"GameResolved","type":"event"},
	{"inputs":[
		{"internalType":"uint256","name":"gameId","type":"uint256"},
		{"internalType":"uint8[5]","name":"numbers","type":"uint8[5]"},
		{"internalType":"uint8","name":"winningIndex","type":"uint8"}
	],"name":"deliverNumbers","outputs":[],"stateMutability":"nonpayable","type":"function"}
]`

// VRFRequesterABI covers both requesters: the Flip/RPS one exposes
// requestRandomness, the NumberGuess one requestRanmiNumbers.
const VRFRequesterABI = `[
	{"anonymous":false,"inputs":[
		{"indexed":true,"internalType":"uint256","name":"gameId","type":"uint256"},
		{"indexed":false,"internalType":"uint256[]","name":"randomWords","type":"uint256[]"}
	],"name":"RandomnessFulfilled","type":"event"},
	{"inputs":[
		{"internalType":"uint256","name":"gameId","type":"uint256"}
	],"name":"requestRandomness","outputs":[{"internalType":"uint256","name":"requestId","type":"uint256"}],"stateMutability":"nonpayable","type":"function"},
	{"inputs":[
		{"internalType":"uint256","name":"gameId","type":"uint256"}
	],"name":"requestRanmiNumbers","outputs":[{"internalType":"uint256","name":"requestId","type":"uint256"}],"stateMutability":"nonpayable","type":"function"}
]`

// ABIs holds the parsed contract interfaces.
type ABIs struct {
	CoinFlip          abi.ABI
	RockPaperScissors abi.ABI
	NumberGuess       abi.ABI
	VRFRequester      abi.ABI
}

func ParseABIs() (*ABIs, error) {
	var out ABIs
	for _, item := range []struct {
		dst  *abi.ABI
		json string
	}{
		{&out.CoinFlip, CoinFlipABI},
		{&out.RockPaperScissors, RockPaperScissorsABI},
		{&out.NumberGuess, NumberGuessABI},
		{&out.VRFRequester, VRFRequesterABI},
	} {
		parsed, err := abi.JSON(strings.NewReader(item.json))
		if err != nil {
			return nil, err
		}
		*item.dst = parsed
	}
	return &out, nil
}
