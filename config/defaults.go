package config

import "time"

// Defaults is the single documented set of tunables.
//
//	utterance debounce     1.5s    silence fallback     15s
//	min utterance chars    5       min tokens           2
//	start throttle         2s      backoff              1s..10s
//	restart delay          1s      watchdog             5s
//	turn poll              300ms   coding reveal delay  1.5s
//	context window         6       network timeout      15s x 3 attempts
func Defaults() Config {
	return Config{
		Language: "en-US",
		Timing: Timing{
			StartThrottle:    2 * time.Second,
			BackoffBase:      time.Second,
			BackoffMax:       10 * time.Second,
			MaxStartAttempts: 5,
			RestartDelay:     time.Second,
			Watchdog:         5 * time.Second,
			TurnPoll:         300 * time.Millisecond,
		},
		Segmenter: Segmenter{
			Debounce: 1500 * time.Millisecond,
			Silence:  15 * time.Second,
			MinChars: 5,
		},
		Responder: Responder{
			Provider:           "backend",
			Model:              "gpt-4o-mini",
			Temperature:        0.7,
			MaxTokens:          250,
			SystemPrompt:       DefaultSystemPrompt,
			MinTokens:          2,
			ContextWindow:      6,
			AdvancePhrases:     []string{"next question", "let's move on", "move on to", "next topic"},
			AdvanceAfterCoding: true,
		},
		TTS: TTS{
			Enabled: true,
			Voice:   "alloy",
			Speed:   1.0,
			Model:   "tts-1-hd",
		},
		Backend: Backend{
			URL:          "http://localhost:5000/api",
			Timeout:      15 * time.Second,
			MaxAttempts:  3,
			InitialDelay: time.Second,
			MaxDelay:     5 * time.Second,
		},
		Recording: Recording{
			Enabled:            true,
			Dir:                "interview_recordings",
			ChunkInterval:      500 * time.Millisecond,
			VideoBitsPerSecond: 2_500_000,
			AudioBitsPerSecond: 128_000,
			TranscribeOnEnd:    true,
		},
		Questions: Questions{
			Main: []string{
				"Tell me a little about yourself and your background.",
				"What interests you about this position?",
				"What are your greatest strengths that make you suitable for this role?",
				"Can you describe a challenging situation you faced at work and how you handled it?",
				"Where do you see yourself professionally in five years?",
			},
			Coding: []string{
				"Write a function that finds the longest substring without repeating characters in a given string.",
				"Implement a function to check if a string is a palindrome, considering only alphanumeric characters and ignoring case.",
				"Write a function to reverse a linked list.",
				"Given an array of integers from 1 to n with one number missing, find the missing number.",
				"Implement a binary search algorithm for a sorted array.",
			},
			CodingAfter: 2,
			RevealDelay: 1500 * time.Millisecond,
			Transition:  "Now let's move on to a coding challenge. Please switch to the coding tab to solve the problem.",
			Closing:     "Thank you for your time. The interview is now complete.",
		},
		Server: Server{
			Addr: "127.0.0.1:8787",
		},
	}
}

const DefaultSystemPrompt = `You are an experienced, friendly technical interviewer conducting a mock job interview.
Respond to the candidate's latest answer in two to four sentences: acknowledge what they said, and ask one focused follow-up question when the answer is thin.
Stay on the current question. Do not answer your own questions.
If the candidate's answer shows they are done with this topic, end with "Let's move on to the next question."`
