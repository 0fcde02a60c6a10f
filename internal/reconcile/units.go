package reconcile

import (
	"math"
	"regexp"
	"strconv"
	"strings"
)

type dimension int

const (
	dimLength dimension = iota + 1
	dimWeight
	dimVolume
)

type unitDef struct {
	dim    dimension
	factor float64 // multiples of the dimension's base unit (mm, g, ml)
}

var units = map[string]unitDef{
	"mm":          {dimLength, 1},
	"millimeter":  {dimLength, 1},
	"millimeters": {dimLength, 1},
	"cm":          {dimLength, 10},
	"centimeter":  {dimLength, 10},
	"centimeters": {dimLength, 10},
	"m":           {dimLength, 1000},
	"meter":       {dimLength, 1000},
	"meters":      {dimLength, 1000},
	"in":          {dimLength, 25.4},
	"inch":        {dimLength, 25.4},
	"inches":      {dimLength, 25.4},
	`"`:           {dimLength, 25.4},
	"ft":          {dimLength, 304.8},
	"feet":        {dimLength, 304.8},

	"mg":        {dimWeight, 0.001},
	"g":         {dimWeight, 1},
	"gram":      {dimWeight, 1},
	"grams":     {dimWeight, 1},
	"kg":        {dimWeight, 1000},
	"kilogram":  {dimWeight, 1000},
	"kilograms": {dimWeight, 1000},
	"lb":        {dimWeight, 453.59237},
	"lbs":       {dimWeight, 453.59237},
	"pound":     {dimWeight, 453.59237},
	"pounds":    {dimWeight, 453.59237},
	"oz":        {dimWeight, 28.349523125},
	"ounce":     {dimWeight, 28.349523125},
	"ounces":    {dimWeight, 28.349523125},

	"ml":           {dimVolume, 1},
	"milliliter":   {dimVolume, 1},
	"milliliters":  {dimVolume, 1},
	"l":            {dimVolume, 1000},
	"liter":        {dimVolume, 1000},
	"liters":       {dimVolume, 1000},
	"fl oz":        {dimVolume, 29.5735295625},
	"fluid ounce":  {dimVolume, 29.5735295625},
	"fluid ounces": {dimVolume, 29.5735295625},
}

var measureRe = regexp.MustCompile(`^\s*(-?\d+(?:[.,]\d+)?)\s*(.*?)\s*$`)

// parseMeasure splits "12,5 cm" into 12.5 and "cm". The unit is returned as
// written; ok is false when either part is missing.
func parseMeasure(s string) (float64, string, bool) {
	m := measureRe.FindStringSubmatch(s)
	if m == nil || m[2] == "" {
		return 0, "", false
	}
	n, err := strconv.ParseFloat(strings.Replace(m[1], ",", ".", 1), 64)
	if err != nil {
		return 0, "", false
	}
	return n, m[2], true
}

func unitKey(u string) string {
	u = strings.ToLower(strings.ReplaceAll(u, ".", ""))
	return strings.Join(strings.Fields(u), " ")
}

// convert expresses value in unit from as a value in unit to. Unknown units
// only convert to themselves.
func convert(value float64, from, to string) (float64, bool) {
	fk, tk := unitKey(from), unitKey(to)
	if fk == tk {
		return value, true
	}
	fd, fok := units[fk]
	td, tok := units[tk]
	if !fok || !tok || fd.dim != td.dim {
		return 0, false
	}
	return round(value * fd.factor / td.factor), true
}

func round(v float64) float64 {
	return math.Round(v*1000) / 1000
}
