package exchange

import (
	"fmt"

	"github.com/shopspring/decimal"

	apperrors "github.com/johnayoung/go-trade-collector/internal/errors"
	"github.com/johnayoung/go-trade-collector/internal/models"
)

const adaptOp = "adapt trade"

var timestampScale = decimal.NewFromInt(models.TimestampScale)

// AdaptTrade converts a wire trade into the domain model.
//
// Price and volume are parsed as exact decimals. The timestamp is the time
// field multiplied by TimestampScale and truncated toward zero, computed in
// decimal arithmetic so that 1573915002.1839 becomes exactly 15739150021839.
// Side, order type and misc are not carried over.
func AdaptTrade(raw RawTrade, symbol models.TradeSymbol) (models.Trade, error) {
	price, err := decimal.NewFromString(raw.Price)
	if err != nil {
		return models.Trade{}, apperrors.Parse(adaptOp, "price", err)
	}

	volume, err := decimal.NewFromString(raw.Volume)
	if err != nil {
		return models.Trade{}, apperrors.Parse(adaptOp, "volume", err)
	}

	ts, err := TimestampTicks(raw.Time.String())
	if err != nil {
		return models.Trade{}, apperrors.Parse(adaptOp, "time", err)
	}

	return models.Trade{
		Symbol:    symbol,
		Price:     price,
		Volume:    volume,
		Timestamp: ts,
	}, nil
}

// TimestampTicks converts a seconds value such as "1573915002.1839" into
// TimestampScale ticks, truncating extra fractional digits.
func TimestampTicks(seconds string) (int64, error) {
	d, err := decimal.NewFromString(seconds)
	if err != nil {
		return 0, err
	}
	if d.IsNegative() {
		return 0, fmt.Errorf("negative time %s", d)
	}
	return d.Mul(timestampScale).Truncate(0).IntPart(), nil
}
