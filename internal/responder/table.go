package responder

import (
	"time"
)

// DefaultTable returns the built-in small-talk table for an assistant called name.
func DefaultTable(name string) []Entry {
	return []Entry{
		{Key: "hi", Replies: []Reply{
			Text("Hi there! 👋 How can I help you today?"),
			Text("Hey! What's on your mind?"),
			Text("Hello, friend! Ask me anything."),
		}},
		{Key: "hello", Replies: []Reply{
			Text("Hello! 😊 What would you like to talk about?"),
			Text("Hi! Great to see you. How can I help?"),
			Text("Hello there! I'm all ears."),
		}},
		{Key: "hey", Replies: []Reply{
			Text("Hey hey! What's up?"),
			Text("Hey! How can I help you today?"),
		}},
		{Key: "good morning", Replies: []Reply{
			Text("Good morning! ☀️ Hope your day is off to a great start."),
			Text("Morning! Ready when you are."),
		}},
		{Key: "good night", Replies: []Reply{
			Text("Good night! 🌙 Sleep well."),
			Text("Sweet dreams! Talk tomorrow."),
		}},
		{Key: "how are you", Replies: []Reply{
			Text("I'm doing great, thanks for asking! How about you?"),
			Text("All systems nominal! 🤖 How are you doing?"),
		}},
		{Key: "who are you", Replies: []Reply{
			Text("I'm " + name + ", your friendly assistant. Ask me anything!"),
			Text("The name's " + name + ". I love a good question."),
		}},
		{Key: "what is your name", Replies: []Reply{
			Text("I'm " + name + "! 😊"),
		}},
		{Key: "what time is it", Replies: []Reply{
			func(now time.Time) string { return "It's " + now.Format("3:04 PM") + " right now. ⏰" },
		}},
		{Key: "what's the date", Replies: []Reply{
			func(now time.Time) string { return "Today is " + now.Format("Monday, January 2, 2006") + ". 📅" },
		}},
		{Key: "what day is it", Replies: []Reply{
			func(now time.Time) string { return "It's " + now.Format("Monday") + "!" },
		}},
		{Key: "thank you", Replies: []Reply{
			Text("You're welcome! 😊"),
			Text("Anytime!"),
		}},
		{Key: "thanks", Replies: []Reply{
			Text("No problem! Happy to help."),
			Text("You got it! 👍"),
		}},
		{Key: "bye", Replies: []Reply{
			Text("Bye! Come back soon. 👋"),
			Text("See you later!"),
		}},
		{Key: "goodbye", Replies: []Reply{
			Text("Goodbye! It was nice chatting. 👋"),
		}},
	}
}
