package naming

var adjectives = []string{
	"agile", "amber", "ample", "azure", "bold", "brave", "brisk", "calm",
	"candid", "civil", "clever", "cosmic", "crisp", "curly", "dapper", "deft",
	"eager", "early", "fancy", "fleet", "fluid", "frank", "fuzzy", "gentle",
	"giddy", "glad", "grand", "hardy", "hasty", "humid", "icy", "jolly",
	"keen", "lucky", "lunar", "merry", "mild", "misty", "noble", "oaken",
	"plush", "proud", "quiet", "rapid", "rusty", "sandy", "shiny", "silky",
	"smart", "snowy", "solar", "spicy", "stark", "sunny", "swift", "tidy",
	"timid", "vivid", "warm", "wavy", "witty", "young", "zany", "zesty",
}

var nouns = []string{
	"acorn", "alder", "badge", "basin", "birch", "bison", "cable", "camel",
	"cedar", "cobra", "comet", "coral", "crane", "delta", "dingo", "eagle",
	"ember", "fable", "falcon", "ferry", "fjord", "gecko", "grove", "heron",
	"hydra", "igloo", "ivory", "jetty", "koala", "lemur", "lilac", "llama",
	"lotus", "lynx", "maple", "mango", "moose", "nexus", "oasis", "orbit",
	"otter", "panda", "pecan", "plaza", "quail", "raven", "ridge", "robin",
	"sable", "shrew", "sloth", "squid", "stork", "tapir", "thorn", "tiger",
	"trout", "tulip", "viper", "walrus", "whale", "yacht", "zebra", "zinnia",
}
