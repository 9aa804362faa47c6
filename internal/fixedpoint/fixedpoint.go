package fixedpoint

import (
	"errors"
	"math"
	"math/big"
)

// Aritmética proporcional inteira usada por toda a liquidação.
// Nenhum componente acima deste pode usar ponto flutuante: toda divisão
// trunca em direção a zero, um viés deliberado a favor da casa/pool que
// precisa ser preservado bit a bit entre implementações.

var (
	ErrArithmeticOverflow = errors.New("arithmetic overflow")
	ErrDivisionByZero     = errors.New("division by zero")
	ErrNegativeAmount     = errors.New("negative amount")
)

const bpsDenominator = 10_000

// Proportion calcula floor(amount * numerator / denominator) com
// intermediário largo (big.Int) pra evitar overflow no produto.
func Proportion(amount, numerator, denominator int64) (int64, error) {
	if amount < 0 || numerator < 0 || denominator < 0 {
		return 0, ErrNegativeAmount
	}
	if denominator == 0 {
		return 0, ErrDivisionByZero
	}

	product := new(big.Int).Mul(big.NewInt(amount), big.NewInt(numerator))
	quotient := product.Quo(product, big.NewInt(denominator))

	if !quotient.IsInt64() {
		return 0, ErrArithmeticOverflow
	}
	return quotient.Int64(), nil
}

// ApplyHouseEdge desconta a margem da casa em basis points:
// gross - floor(gross * edgeBps / 10000)
func ApplyHouseEdge(gross, edgeBps int64) (int64, error) {
	if gross < 0 || edgeBps < 0 {
		return 0, ErrNegativeAmount
	}
	if edgeBps > bpsDenominator {
		return 0, ErrArithmeticOverflow
	}

	cut, err := Proportion(gross, edgeBps, bpsDenominator)
	if err != nil {
		return 0, err
	}
	return gross - cut, nil
}

// MulChecked multiplica dois valores não negativos com guarda de overflow
// (ex.: count * entryPrice na compra de bilhetes)
func MulChecked(a, b int64) (int64, error) {
	if a < 0 || b < 0 {
		return 0, ErrNegativeAmount
	}
	if a == 0 || b == 0 {
		return 0, nil
	}
	if a > math.MaxInt64/b {
		return 0, ErrArithmeticOverflow
	}
	return a * b, nil
}
