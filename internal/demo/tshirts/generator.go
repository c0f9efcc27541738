package tshirts

import (
	"math/rand"
)

var (
	Brands = []string{"Van Huesen", "Levi", "Nike", "Adidas"}
	Colors = []string{"Red", "Blue", "Black", "White"}
	Sizes  = []string{"XS", "S", "M", "L", "XL"}
)

// MaxTShirts is the number of distinct brand, color and size combinations.
var MaxTShirts = len(Brands) * len(Colors) * len(Sizes)

type TShirt struct {
	ID            int64
	Brand         string
	Color         string
	Size          string
	Price         int
	StockQuantity int
}

type Discount struct {
	ID          int64
	TShirtID    int64
	PctDiscount float64
}

type Dataset struct {
	TShirts   []TShirt
	Discounts []Discount
}

// Generate returns a dataset that depends only on seed and count. Every
// t-shirt is a distinct brand, color and size combination.
func Generate(seed int64, count int) Dataset {
	if count > MaxTShirts {
		count = MaxTShirts
	}
	rnd := rand.New(rand.NewSource(seed))

	combos := make([][3]string, 0, MaxTShirts)
	for _, brand := range Brands {
		for _, color := range Colors {
			for _, size := range Sizes {
				combos = append(combos, [3]string{brand, color, size})
			}
		}
	}
	rnd.Shuffle(len(combos), func(i, j int) { combos[i], combos[j] = combos[j], combos[i] })

	var data Dataset
	for i := 0; i < count; i++ {
		combo := combos[i]
		data.TShirts = append(data.TShirts, TShirt{
			ID:            int64(i + 1),
			Brand:         combo[0],
			Color:         combo[1],
			Size:          combo[2],
			Price:         10 + rnd.Intn(41),
			StockQuantity: 10 + rnd.Intn(91),
		})
	}

	for _, shirt := range data.TShirts {
		if rnd.Intn(4) != 0 {
			continue
		}
		data.Discounts = append(data.Discounts, Discount{
			ID:          int64(len(data.Discounts) + 1),
			TShirtID:    shirt.ID,
			PctDiscount: float64(5 * (1 + rnd.Intn(10))),
		})
	}
	return data
}
