package seeder

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"math"
	"math/rand"
	"strconv"
	"time"
)

var (
	firstNames = []string{"ada", "grace", "linus", "margaret", "alan", "barbara", "ken", "radia", "dennis", "frances"}
	countries  = []string{"US", "DE", "GB", "IN", "JP", "BR"}
	plans      = []string{"free", "free", "free", "pro", "pro", "team"}
	statuses   = []string{"paid", "paid", "paid", "paid", "refunded", "pending"}
	products   = []string{"notebook", "pen", "backpack", "monitor", "keyboard", "mug"}
)

// Generator produces the same users and orders tables for the same seed.
type Generator struct {
	rnd   *rand.Rand
	start time.Time
	span  int
}

func NewGenerator(seed int64, start time.Time, spanDays int) *Generator {
	if spanDays <= 0 {
		spanDays = 1
	}
	return &Generator{rnd: rand.New(rand.NewSource(seed)), start: start.UTC(), span: spanDays}
}

// UsersCSV returns id,name,country,plan,signup_date rows. Some countries are
// left blank so the column is nullable.
func (g *Generator) UsersCSV(count int) ([]byte, error) {
	var buf bytes.Buffer
	writer := csv.NewWriter(&buf)
	if err := writer.Write([]string{"id", "name", "country", "plan", "signup_date"}); err != nil {
		return nil, err
	}
	for id := 1; id <= count; id++ {
		country := pickOne(g.rnd, countries)
		if g.rnd.Intn(20) == 0 {
			country = ""
		}
		signup := g.start.AddDate(0, 0, g.rnd.Intn(g.span))
		record := []string{
			strconv.Itoa(id),
			fmt.Sprintf("%s_%03d", pickOne(g.rnd, firstNames), id),
			country,
			pickOne(g.rnd, plans),
			signup.Format("2006-01-02"),
		}
		if err := writer.Write(record); err != nil {
			return nil, err
		}
	}
	writer.Flush()
	return buf.Bytes(), writer.Error()
}

// OrdersCSV returns id,user_id,product,quantity,total,status,created_at rows
// referencing users 1..userCount.
func (g *Generator) OrdersCSV(count, userCount int) ([]byte, error) {
	if userCount <= 0 {
		return nil, fmt.Errorf("user count must be > 0")
	}
	var buf bytes.Buffer
	writer := csv.NewWriter(&buf)
	if err := writer.Write([]string{"id", "user_id", "product", "quantity", "total", "status", "created_at"}); err != nil {
		return nil, err
	}
	for id := 1; id <= count; id++ {
		quantity := g.rnd.Intn(4) + 1
		unit := 5 + g.rnd.Float64()*195
		createdAt := g.start.
			AddDate(0, 0, g.rnd.Intn(g.span)).
			Add(time.Duration(g.rnd.Intn(24*60)) * time.Minute)
		record := []string{
			strconv.Itoa(id),
			strconv.Itoa(g.rnd.Intn(userCount) + 1),
			pickOne(g.rnd, products),
			strconv.Itoa(quantity),
			strconv.FormatFloat(round2(unit*float64(quantity)), 'f', 2, 64),
			pickOne(g.rnd, statuses),
			createdAt.Format("2006-01-02 15:04:05"),
		}
		if err := writer.Write(record); err != nil {
			return nil, err
		}
	}
	writer.Flush()
	return buf.Bytes(), writer.Error()
}

func round2(value float64) float64 {
	return math.Round(value*100) / 100
}

func pickOne(r *rand.Rand, values []string) string {
	return values[r.Intn(len(values))]
}
