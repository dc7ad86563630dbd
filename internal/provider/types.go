package provider

// ShoppingResult is one normalized row out of a shopping search response,
// merging both the organic and ads result arrays.
type ShoppingResult struct {
	ProductID           string
	Title                string
	Price                float64
	Currency             string
	Merchant             string
	ProductLink          string
	ImmersiveToken       string
	Thumbnail            string
	SecondHandCondition  string // empty means "new" (provider convention)
}

// DetailResult is the parsed outcome of a product-detail lookup: the
// first online seller whose link uses https://.
type DetailResult struct {
	SellerLink string
	TotalPrice float64
}

// rawShoppingItem mirrors the subset of the upstream JSON shape this
// module actually consumes, for both shopping_results and
// inline_shopping_results entries.
type rawShoppingItem struct {
	ProductID              string      `json:"product_id"`
	Title                  string      `json:"title"`
	ExtractedPrice         float64     `json:"extracted_price"`
	Price                  string      `json:"price"`
	Currency               string      `json:"currency"`
	Source                 string      `json:"source"`
	ProductLink            string      `json:"product_link"`
	Link                   string      `json:"link"`
	SerpAPIProductAPI      string      `json:"serpapi_product_api"`
	SerpAPIImmersiveAPI    string      `json:"serpapi_immersive_product_api"`
	Thumbnail              string      `json:"thumbnail"`
	SecondHandCondition    string      `json:"second_hand_condition"`
	AlternativePrice       *altPrice   `json:"alternative_price"`
}

type altPrice struct {
	Currency string `json:"currency"`
}

type shoppingSearchResponse struct {
	ShoppingResults       []rawShoppingItem `json:"shopping_results"`
	InlineShoppingResults []rawShoppingItem `json:"inline_shopping_results"`
}

type detailResponse struct {
	SellersResults struct {
		OnlineSellers []struct {
			Link       string  `json:"link"`
			TotalPrice float64 `json:"total_price"`
		} `json:"online_sellers"`
	} `json:"sellers_results"`
}
