package catalog

import "github.com/shopspring/decimal"

// DefaultPlatforms is the built-in action table.
func DefaultPlatforms() []Platform {
	return []Platform{
		{ID: "twitter", Name: "Twitter / X", Actions: []Action{
			{ID: "follow", Name: "Follow Account", MinReward: 25, DefaultReward: 50},
			{ID: "like", Name: "Like Post", MinReward: 10, DefaultReward: 20},
			{ID: "retweet", Name: "Retweet / Repost", MinReward: 15, DefaultReward: 30},
			{ID: "comment", Name: "Comment", MinReward: 20, DefaultReward: 40},
		}},
		{ID: "youtube", Name: "YouTube", Actions: []Action{
			{ID: "subscribe", Name: "Subscribe to Channel", MinReward: 50, DefaultReward: 75},
			{ID: "like", Name: "Like Video", MinReward: 15, DefaultReward: 25},
			{ID: "comment", Name: "Comment on Video", MinReward: 25, DefaultReward: 50},
		}},
		{ID: "instagram", Name: "Instagram", Actions: []Action{
			{ID: "follow", Name: "Follow Account", MinReward: 25, DefaultReward: 50},
			{ID: "like", Name: "Like Post", MinReward: 10, DefaultReward: 20},
			{ID: "comment", Name: "Comment on Post", MinReward: 20, DefaultReward: 40},
		}},
		{ID: "discord", Name: "Discord", Actions: []Action{
			{ID: "join", Name: "Join Server", MinReward: 75, DefaultReward: 100},
		}},
		{ID: "telegram", Name: "Telegram", Actions: []Action{
			{ID: "join", Name: "Join Channel/Group", MinReward: 50, DefaultReward: 75},
		}},
		{ID: "tiktok", Name: "TikTok", Actions: []Action{
			{ID: "follow", Name: "Follow Account", MinReward: 20, DefaultReward: 40},
			{ID: "like", Name: "Like Video", MinReward: 10, DefaultReward: 20},
		}},
		{ID: "other", Name: "Other URL", Actions: []Action{
			{ID: "visit", Name: "Visit Website / URL", MinReward: 10, DefaultReward: 20},
		}},
	}
}

// DefaultPackages is the built-in point package list.
func DefaultPackages() []Package {
	return []Package{
		{ID: "starter", Name: "Starter Pack", Points: 1000, Bonus: 0, PriceETH: decimal.RequireFromString("0.01")},
		{ID: "growth", Name: "Growth Pack", Points: 5000, Bonus: 500, PriceETH: decimal.RequireFromString("0.045"), Popular: true},
		{ID: "pro", Name: "Pro Pack", Points: 10000, Bonus: 1500, PriceETH: decimal.RequireFromString("0.08")},
		{ID: "elite", Name: "Elite Pack", Points: 25000, Bonus: 5000, PriceETH: decimal.RequireFromString("0.18")},
	}
}

// DefaultOfficialTasks are the community channels every user can earn from.
func DefaultOfficialTasks() []OfficialTask {
	return []OfficialTask{
		{Platform: "twitter", Action: "follow", Title: "Follow HypeHUB on X",
			Description: "Latest news and updates.", URL: "https://x.com/HypeHUB_Social", Reward: 100},
		{Platform: "telegram", Action: "join", Title: "Join the HypeHUB Telegram",
			Description: "Community chat.", URL: "https://t.me/HypeHubPortal", Reward: 100},
		{Platform: "instagram", Action: "follow", Title: "Follow HypeHUB on Instagram",
			Description: "Visual updates and stories.", URL: "https://www.instagram.com/hypehub_social/", Reward: 100},
		{Platform: "discord", Action: "join", Title: "Join the HypeHUB Discord",
			Description: "Join our server.", URL: "https://discord.gg/bJFgn3RH", Reward: 150},
		{Platform: "tiktok", Action: "follow", Title: "Follow HypeHUB on TikTok",
			Description: "Short videos and fun.", URL: "https://www.tiktok.com/@hypehub_social", Reward: 100},
	}
}

// Default returns the built-in catalog.
func Default() *Catalog {
	c, err := New(DefaultPlatforms(), DefaultPackages(), DefaultOfficialTasks())
	if err != nil {
		panic("catalog: built-in catalog is invalid: " + err.Error())
	}
	return c
}
