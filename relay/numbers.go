package relay

import (
	"errors"
	"fmt"
	"math/big"
)

const (
	// NumberPool is the modulus M of the drawn numbers: two-digit values 0..99.
	NumberPool = 100
	// DrawSize is how many numbers a NumberGuess game offers.
	DrawSize = 5
	// MinRandomWords covers DrawSize numbers plus the winning index word.
	MinRandomWords = DrawSize + 1
)

var ErrInsufficientWords = errors.New("not enough random words")

// DeriveNumbers turns VRF words into DrawSize distinct numbers in [0, m)
// and a winning index in [0, DrawSize). Words are reduced mod m in order,
// duplicates dropped; a short set is filled from the last inserted value
// upward, wrapping at m. The winning index comes from words[DrawSize].
func DeriveNumbers(words []*big.Int, m int) ([]int, int, error) {
	if len(words) < MinRandomWords {
		return nil, 0, fmt.Errorf("%w: got %d, need %d", ErrInsufficientWords, len(words), MinRandomWords)
	}
	if m < DrawSize {
		return nil, 0, fmt.Errorf("modulus %d smaller than draw size %d", m, DrawSize)
	}

	mod := big.NewInt(int64(m))
	seen := make(map[int]struct{}, DrawSize)
	numbers := make([]int, 0, DrawSize)
	add := func(n int) {
		if _, dup := seen[n]; dup {
			return
		}
		seen[n] = struct{}{}
		numbers = append(numbers, n)
	}

	for _, w := range words {
		if len(numbers) == DrawSize {
			break
		}
		add(int(new(big.Int).Mod(w, mod).Int64()))
	}

	next := numbers[len(numbers)-1]
	for steps := 0; len(numbers) < DrawSize && steps < m; steps++ {
		next = (next + 1) % m
		add(next)
	}

	winning := int(new(big.Int).Mod(words[DrawSize], big.NewInt(DrawSize)).Int64())
	return numbers, winning, nil
}

// toUint8Array packs derived numbers for deliverNumbers(uint256,uint8[5],uint8).
func toUint8Array(numbers []int) [DrawSize]uint8 {
	var out [DrawSize]uint8
	for i := 0; i < DrawSize && i < len(numbers); i++ {
		out[i] = uint8(numbers[i])
	}
	return out
}
